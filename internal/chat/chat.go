// Package chat declares the contracts the Pipeline Controller needs from
// the chat transport. The transport itself — message polling, command
// dispatch, the settings-menu UI — is an external collaborator and is not
// implemented here; only the interfaces the pipeline drives it through are.
package chat

import (
	"context"
	"io"
)

// UploadMode controls how the final file is presented to the chat.
type UploadMode string

const (
	// UploadModeDocument forces plain-document presentation.
	UploadModeDocument UploadMode = "document"
	// UploadModeFile allows native media/video presentation.
	UploadModeFile UploadMode = "file"
)

// ProgressFunc is invoked with cumulative bytes transferred and the known
// total (0 if unknown) during a download or upload.
type ProgressFunc func(current, total int64)

// Downloader streams a job's source media to disk.
type Downloader interface {
	// DownloadUpload streams a chat-attachment locator (UploadSource.Locator)
	// to w, reporting progress as bytes arrive.
	DownloadUpload(ctx context.Context, locator string, w io.Writer, progress ProgressFunc) error

	// DownloadLink HTTP-GETs url to w, reporting progress as bytes arrive.
	// Implementations follow redirects, send a browser-like User-Agent, and
	// abort if Content-Length exceeds maxBytes (0 means no declared length
	// to check up front; the caller still enforces the cap as bytes stream).
	DownloadLink(ctx context.Context, url string, w io.Writer, maxBytes int64, progress ProgressFunc) (filename string, err error)
}

// Uploader sends the finished artifact back to the originating chat.
type Uploader interface {
	UploadFile(ctx context.Context, chatID int64, path string, caption string, mode UploadMode, thumbnailPath string, progress ProgressFunc) error
}

// Messenger sends and edits plain status/reply messages. Editing a progress
// message is handled by reporter.MessageEditor; Messenger covers the
// one-shot sends (button rows, final report) the pipeline also needs.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (handle string, err error)
	SendButtons(ctx context.Context, chatID, replyTo int64, text string, buttons []Button) (handle string, err error)
}

// Button is one inline keyboard button; Payload is the opaque callback
// data resolved through jobs.CallbackRegistry or a static command string.
type Button struct {
	Label   string
	Payload string
}
