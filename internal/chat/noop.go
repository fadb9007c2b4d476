package chat

import (
	"context"
	"errors"
	"io"

	"github.com/adittyamondal/vcompress/internal/logger"
)

// ErrTransportUnconfigured is returned by NoopTransport for every call. It
// exists so main can wire the Pipeline Controller end to end before a real
// chat transport (Telegram/Discord/etc., an external collaborator this
// module only references by interface) is plugged in.
var ErrTransportUnconfigured = errors.New("chat transport not configured")

// NoopTransport implements Downloader, Uploader, and Messenger by logging
// and refusing. It lets the rest of the pipeline start and exercise its
// non-transport stages (Prepare, Transcode, Artifacts, Cleanup) without a
// live chat connection.
type NoopTransport struct{}

func (NoopTransport) DownloadUpload(ctx context.Context, locator string, w io.Writer, progress ProgressFunc) error {
	logger.Warn("chat transport not configured: DownloadUpload refused", "locator", locator)
	return ErrTransportUnconfigured
}

func (NoopTransport) DownloadLink(ctx context.Context, url string, w io.Writer, maxBytes int64, progress ProgressFunc) (string, error) {
	logger.Warn("chat transport not configured: DownloadLink refused", "url", url)
	return "", ErrTransportUnconfigured
}

func (NoopTransport) UploadFile(ctx context.Context, chatID int64, path, caption string, mode UploadMode, thumbnailPath string, progress ProgressFunc) error {
	logger.Warn("chat transport not configured: UploadFile refused", "chat_id", chatID, "path", path)
	return ErrTransportUnconfigured
}

func (NoopTransport) SendMessage(ctx context.Context, chatID int64, text string) (string, error) {
	logger.Info("chat transport not configured: message dropped", "chat_id", chatID, "text", text)
	return "", nil
}

func (NoopTransport) SendButtons(ctx context.Context, chatID, replyTo int64, text string, buttons []Button) (string, error) {
	logger.Info("chat transport not configured: button row dropped", "chat_id", chatID, "text", text)
	return "", nil
}

// EditMessage implements reporter.MessageEditor so the Progress Reporter can
// be constructed before a real transport exists.
func (NoopTransport) EditMessage(ctx context.Context, handle, text string) error {
	logger.Debug("chat transport not configured: progress edit dropped", "handle", handle)
	return nil
}
