package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/voxturn/voxturn/internal/diarize"
	"github.com/voxturn/voxturn/internal/transcript"
)

const (
	SummaryPending   = "pending"
	SummaryRunning   = "running"
	SummaryCompleted = "completed"
	SummaryFailed    = "failed"
)

// Recording is one recorded session: a transcript plus, once the batch
// diarization pass has run, its speaker segments.
type Recording struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Status        string     `json:"status"`
	Summary       string     `json:"summary"`
	SummaryStatus string     `json:"summary_status"`
	AudioPath     string     `json:"audio_path"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "voxturn.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			summary_status TEXT NOT NULL DEFAULT 'pending',
			audio_path TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create recordings table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			recording_id TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp REAL NOT NULL,
			duration REAL NOT NULL,
			confidence REAL NOT NULL,
			speaker INTEGER NOT NULL DEFAULT 0,
			edited INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create segments table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS speaker_segments (
			recording_id TEXT NOT NULL,
			speaker INTEGER NOT NULL,
			start_time REAL NOT NULL,
			end_time REAL NOT NULL,
			FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create speaker_segments table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS speaker_labels (
			recording_id TEXT NOT NULL,
			speaker INTEGER NOT NULL,
			label TEXT NOT NULL,
			UNIQUE(recording_id, speaker)
		);
	`); err != nil {
		return fmt.Errorf("create speaker_labels table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summary_requests (
			recording_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(recording_id, prompt_hash)
		);
	`); err != nil {
		return fmt.Errorf("create summary_requests table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_recordings_started_at ON recordings(started_at)"); err != nil {
		return fmt.Errorf("create recordings index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_segments_recording_id ON segments(recording_id, timestamp)"); err != nil {
		return fmt.Errorf("create segments index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_speaker_segments_recording_id ON speaker_segments(recording_id, start_time)"); err != nil {
		return fmt.Errorf("create speaker_segments index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) CreateRecording(id string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("recording id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO recordings(id, started_at, status, summary_status) VALUES(?, ?, 'active', ?)`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
		SummaryPending,
	)
	if err != nil {
		return fmt.Errorf("create recording %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndRecording(id string, endedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE recordings SET ended_at = ?, status = 'ended' WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("end recording %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end recording rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) SetAudioPath(id, audioPath string) error {
	_, err := s.db.Exec(`UPDATE recordings SET audio_path = ? WHERE id = ?`, audioPath, id)
	if err != nil {
		return fmt.Errorf("set audio path for recording %s: %w", id, err)
	}
	return nil
}

// SaveSegments persists committed transcript segments. Segment ids are
// deterministic, so a replayed commit overwrites rather than duplicates.
func (s *SQLiteStore) SaveSegments(recordingID string, segments []transcript.Segment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save segments: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, seg := range segments {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO segments(id, recording_id, text, timestamp, duration, confidence, speaker, edited)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			seg.ID.String(),
			recordingID,
			strings.TrimSpace(seg.Text),
			seg.Timestamp,
			seg.Duration,
			seg.Confidence,
			seg.Speaker,
			boolToInt(seg.Edited),
		)
		if err != nil {
			return fmt.Errorf("save segment %s for recording %s: %w", seg.ID, recordingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save segments: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSegments(recordingID string) ([]transcript.Segment, error) {
	rows, err := s.db.Query(
		`SELECT id, text, timestamp, duration, confidence, speaker, edited
		 FROM segments
		 WHERE recording_id = ?
		 ORDER BY timestamp ASC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments for recording %s: %w", recordingID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]transcript.Segment, 0, 32)
	for rows.Next() {
		var seg transcript.Segment
		var id string
		var edited int
		if err := rows.Scan(&id, &seg.Text, &seg.Timestamp, &seg.Duration, &seg.Confidence, &seg.Speaker, &edited); err != nil {
			return nil, fmt.Errorf("scan segment for recording %s: %w", recordingID, err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse segment id for recording %s: %w", recordingID, err)
		}
		seg.ID = parsed
		seg.Edited = edited != 0
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows for recording %s: %w", recordingID, err)
	}

	return segments, nil
}

// UpdateSegmentText applies a user edit and marks the segment as edited.
func (s *SQLiteStore) UpdateSegmentText(recordingID string, segmentID uuid.UUID, text string) error {
	res, err := s.db.Exec(
		`UPDATE segments SET text = ?, edited = 1 WHERE id = ? AND recording_id = ?`,
		strings.TrimSpace(text),
		segmentID.String(),
		recordingID,
	)
	if err != nil {
		return fmt.Errorf("update segment %s text: %w", segmentID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update segment text rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateSegmentSpeakers writes the alignment result back onto the stored
// transcript.
func (s *SQLiteStore) UpdateSegmentSpeakers(recordingID string, segments []transcript.Segment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin speaker update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, seg := range segments {
		if _, err := tx.Exec(
			`UPDATE segments SET speaker = ? WHERE id = ? AND recording_id = ?`,
			seg.Speaker, seg.ID.String(), recordingID,
		); err != nil {
			return fmt.Errorf("update speaker for segment %s: %w", seg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit speaker update: %w", err)
	}
	return nil
}

// SaveSpeakerSegments replaces the diarization result for a recording.
func (s *SQLiteStore) SaveSpeakerSegments(recordingID string, segments []diarize.SpeakerSegment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save speaker segments: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM speaker_segments WHERE recording_id = ?`, recordingID); err != nil {
		return fmt.Errorf("clear speaker segments for recording %s: %w", recordingID, err)
	}

	for _, seg := range segments {
		if _, err := tx.Exec(
			`INSERT INTO speaker_segments(recording_id, speaker, start_time, end_time) VALUES(?, ?, ?, ?)`,
			recordingID, seg.Speaker, seg.Start, seg.End,
		); err != nil {
			return fmt.Errorf("save speaker segment for recording %s: %w", recordingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save speaker segments: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSpeakerSegments(recordingID string) ([]diarize.SpeakerSegment, error) {
	rows, err := s.db.Query(
		`SELECT speaker, start_time, end_time
		 FROM speaker_segments
		 WHERE recording_id = ?
		 ORDER BY start_time ASC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query speaker segments for recording %s: %w", recordingID, err)
	}
	defer func() { _ = rows.Close() }()

	var segments []diarize.SpeakerSegment
	for rows.Next() {
		var seg diarize.SpeakerSegment
		if err := rows.Scan(&seg.Speaker, &seg.Start, &seg.End); err != nil {
			return nil, fmt.Errorf("scan speaker segment for recording %s: %w", recordingID, err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate speaker segment rows for recording %s: %w", recordingID, err)
	}

	return segments, nil
}

// RenameSpeaker attaches a display label to a detected speaker.
func (s *SQLiteStore) RenameSpeaker(recordingID string, speaker int, label string) error {
	if speaker < 1 {
		return fmt.Errorf("%w: %d", diarize.ErrInvalidSpeakerID, speaker)
	}

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM speaker_segments WHERE recording_id = ? AND speaker = ?`,
		recordingID, speaker,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check speaker %d for recording %s: %w", speaker, recordingID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: speaker %d in recording %s", diarize.ErrSpeakerProfileNotFound, speaker, recordingID)
	}

	_, err = s.db.Exec(
		`INSERT INTO speaker_labels(recording_id, speaker, label) VALUES(?, ?, ?)
		 ON CONFLICT(recording_id, speaker) DO UPDATE SET label = excluded.label`,
		recordingID, speaker, strings.TrimSpace(label),
	)
	if err != nil {
		return fmt.Errorf("rename speaker %d for recording %s: %w", speaker, recordingID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSpeakerLabels(recordingID string) (map[int]string, error) {
	rows, err := s.db.Query(
		`SELECT speaker, label FROM speaker_labels WHERE recording_id = ?`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query speaker labels for recording %s: %w", recordingID, err)
	}
	defer func() { _ = rows.Close() }()

	labels := map[int]string{}
	for rows.Next() {
		var speaker int
		var label string
		if err := rows.Scan(&speaker, &label); err != nil {
			return nil, fmt.Errorf("scan speaker label for recording %s: %w", recordingID, err)
		}
		labels[speaker] = label
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate speaker label rows for recording %s: %w", recordingID, err)
	}
	return labels, nil
}

func (s *SQLiteStore) GetRecordingsByDate(date string) ([]Recording, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, ended_at, status, summary, summary_status, audio_path
		 FROM recordings
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query recordings by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecordings(rows)
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM recordings ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) GetRecording(id string) (Recording, error) {
	row := s.db.QueryRow(
		`SELECT id, started_at, ended_at, status, summary, summary_status, audio_path FROM recordings WHERE id = ?`,
		id,
	)

	var rec Recording
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&rec.ID, &startedAt, &endedAt, &rec.Status, &rec.Summary, &rec.SummaryStatus, &rec.AudioPath); err != nil {
		return Recording{}, fmt.Errorf("query recording %s: %w", id, err)
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Recording{}, fmt.Errorf("parse recording %s started_at: %w", id, err)
	}
	rec.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Recording{}, fmt.Errorf("parse recording %s ended_at: %w", id, err)
		}
		rec.EndedAt = &parsedEnd
	}

	return rec, nil
}

func (s *SQLiteStore) UpdateSummary(recordingID, summary, status string) error {
	res, err := s.db.Exec(
		`UPDATE recordings SET summary = ?, summary_status = ? WHERE id = ?`,
		summary,
		status,
		recordingID,
	)
	if err != nil {
		return fmt.Errorf("update summary for recording %s: %w", recordingID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update summary rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (s *SQLiteStore) ClaimSummaryRequest(recordingID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO summary_requests(recording_id, prompt_hash) VALUES(?, ?)`,
		recordingID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim summary request for recording %s: %w", recordingID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim summary rows affected: %w", err)
	}

	return rows > 0, nil
}

func scanRecordings(rows *sql.Rows) ([]Recording, error) {
	recordings := make([]Recording, 0, 16)
	for rows.Next() {
		var rec Recording
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&rec.ID, &startedAt, &endedAt, &rec.Status, &rec.Summary, &rec.SummaryStatus, &rec.AudioPath); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}

		parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		rec.StartedAt = parsedStart

		if endedAt.Valid {
			parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			rec.EndedAt = &parsedEnd
		}

		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings rows: %w", err)
	}

	return recordings, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
