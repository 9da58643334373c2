package cut

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/container"
	"github.com/jmylchreest/framecut/internal/ffmpeg"
	"github.com/jmylchreest/framecut/internal/media"
)

// fileTSWriter writes the TS leg straight to the output file, for .ts
// targets where no remux pass is needed.
type fileTSWriter struct {
	f  *os.File
	ts *container.TSWriter
}

func newFileTSWriter(path string, logger *slog.Logger) (*fileTSWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &fileTSWriter{f: f, ts: container.NewTSWriter(f, logger)}, nil
}

func (w *fileTSWriter) AddStream(desc media.StreamDescriptor) error {
	return w.ts.AddStream(desc)
}

func (w *fileTSWriter) WritePacket(pkt *media.Packet) error {
	return w.ts.WritePacket(pkt)
}

func (w *fileTSWriter) Finalize(chapters []media.Chapter, attachments []media.Attachment) error {
	if err := w.ts.Finalize(chapters, attachments); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// loadAttachments extracts the input's attachment streams (MKV fonts and the
// like) into memory for the writer to re-attach at finalize. Only done when
// the target container can carry them.
func (e *packetEngine) loadAttachments(ctx context.Context) ([]media.Attachment, error) {
	j := e.job

	target := codec.ParseContainer(filepath.Ext(e.outputPath))
	if target != codec.ContainerMKV && target != codec.ContainerWebM {
		return nil, nil
	}

	refs := j.source.StreamsOfKind(media.StreamAttachment)
	if len(refs) == 0 {
		return nil, nil
	}

	dir, err := os.MkdirTemp("", "framecut-att-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	// ffmpeg dumps attachments by their filename metadata into the working
	// directory.
	builder := ffmpeg.NewCommandBuilder(j.ffmpegPath).
		HideBanner().
		InputArgs("-dump_attachment:t", "").
		Input(j.opts.InputPath).
		OutputArgs("-t", "0", "-f", "null").
		Output("-")

	cmd := builder.Command(ctx)
	cmd.Dir = dir
	// Attachment dumping "fails" the command even on success in some ffmpeg
	// versions; trust the produced files instead of the exit code.
	_ = cmd.Run()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []media.Attachment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, media.Attachment{
			Filename: entry.Name(),
			MimeType: attachmentMime(j, entry.Name()),
			Data:     data,
		})
	}
	return out, nil
}

// attachmentMime looks up the probed mimetype for an attachment filename.
func attachmentMime(j *Job, filename string) string {
	for _, a := range j.source.Attachments {
		if a.Filename == filename {
			return a.MimeType
		}
	}
	return ""
}
