// Package gdrive uploads recording artifacts to a shared Drive folder.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Archiver mirrors local artifacts into one Drive folder. Uploads are
// keyed by file name so repeated archives update in place instead of
// piling up copies.
type Archiver struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewArchiver(ctx context.Context, credPath, folderID string) (*Archiver, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithParams(ctx, creds, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Archiver{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// ArchiveDatabase uploads a snapshot of the sqlite database.
func (a *Archiver) ArchiveDatabase(dbPath string) error {
	return a.upload(dbPath, "voxturn.db", "application/octet-stream")
}

// ArchiveRecording uploads the transcript markdown and, when present, the
// recording's audio file.
func (a *Archiver) ArchiveRecording(recordingID, transcriptPath, audioPath string) error {
	if transcriptPath != "" {
		if err := a.upload(transcriptPath, recordingID+".md", "text/markdown"); err != nil {
			return err
		}
	}
	if audioPath != "" {
		if _, err := os.Stat(audioPath); err == nil {
			if err := a.upload(audioPath, filepath.Base(audioPath), "audio/wav"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Archiver) upload(localPath, name, mimeType string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := a.fileIDs[name]; ok {
		if _, err := a.service.Files.Update(fileID, &drive.File{}).Media(f).Do(); err != nil {
			return fmt.Errorf("drive update %s: %w", name, err)
		}
		return nil
	}

	doc, err := a.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{a.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create %s: %w", name, err)
	}

	a.fileIDs[name] = doc.Id
	return nil
}
