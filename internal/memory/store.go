package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRecordingNotFound is returned by Load and Delete for unknown references.
var ErrRecordingNotFound = errors.New("recording not found")

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	recording_id  TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	num_frames    INTEGER NOT NULL,
	frame_len     INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS recordings_name ON recordings(name, created_at);

CREATE TABLE IF NOT EXISTS recording_frames (
	recording_id  TEXT NOT NULL,
	frame_index   INTEGER NOT NULL,
	frame         BLOB NOT NULL,
	PRIMARY KEY (recording_id, frame_index),
	FOREIGN KEY (recording_id) REFERENCES recordings(recording_id) ON DELETE CASCADE
);
`

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Recording describes one saved memory.
type Recording struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NumFrames int       `json:"num_frames"`
	FrameLen  int       `json:"frame_len"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists memories in SQLite.
type Store struct {
	db *sql.DB
}

// storeDSN applies the pragmas on every connection the pool opens.
func storeDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// OpenStore opens (or creates) the database at path and runs migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", storeDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes frames as a new recording.
func (s *Store) Save(ctx context.Context, name string, frames [][]float64) (Recording, error) {
	frameLen := 0
	if len(frames) > 0 {
		frameLen = len(frames[0])
	}
	for i, f := range frames {
		if len(f) != frameLen {
			return Recording{}, fmt.Errorf("frame %d has %d values, want %d", i, len(f), frameLen)
		}
	}

	rec := Recording{
		ID:        uuid.New().String(),
		Name:      name,
		NumFrames: len(frames),
		FrameLen:  frameLen,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Recording{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO recordings (recording_id, name, num_frames, frame_len, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.NumFrames, rec.FrameLen, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO recording_frames (recording_id, frame_index, frame) VALUES (?, ?, ?)`)
	if err != nil {
		return Recording{}, fmt.Errorf("prepare frames: %w", err)
	}
	defer stmt.Close()

	for i, f := range frames {
		if _, err := stmt.ExecContext(ctx, rec.ID, i, encodeFrame(f)); err != nil {
			return Recording{}, fmt.Errorf("insert frame %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Recording{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// Load reads a recording by id, or the latest recording with that name.
func (s *Store) Load(ctx context.Context, ref string) (Recording, [][]float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT recording_id, name, num_frames, frame_len, created_at FROM recordings
		 WHERE recording_id = ? OR name = ?
		 ORDER BY (recording_id = ?) DESC, created_at DESC, rowid DESC
		 LIMIT 1`,
		ref, ref, ref,
	)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, nil, fmt.Errorf("%q: %w", ref, ErrRecordingNotFound)
	}
	if err != nil {
		return Recording{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT frame FROM recording_frames WHERE recording_id = ? ORDER BY frame_index`, rec.ID)
	if err != nil {
		return Recording{}, nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	frames := make([][]float64, 0, rec.NumFrames)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return Recording{}, nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, decodeFrame(blob))
	}
	if err := rows.Err(); err != nil {
		return Recording{}, nil, fmt.Errorf("iterate frames: %w", err)
	}
	return rec, frames, nil
}

// List returns all recordings, newest first.
func (s *Store) List(ctx context.Context) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recording_id, name, num_frames, frame_len, created_at FROM recordings
		 ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a recording and its frames.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE recording_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%q: %w", id, ErrRecordingNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(sc scanner) (Recording, error) {
	var (
		rec       Recording
		createdAt string
	)
	if err := sc.Scan(&rec.ID, &rec.Name, &rec.NumFrames, &rec.FrameLen, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, err
		}
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Recording{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = t
	return rec, nil
}

func encodeFrame(f []float64) []byte {
	buf := make([]byte, len(f)*8)
	for i, v := range f {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeFrame(buf []byte) []float64 {
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}
