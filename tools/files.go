package tools

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"polychat/model"

	"github.com/ledongthuc/pdf"
)

type resolvedFile struct {
	name string
	att  model.Attachment
	note string // set when the file could not be resolved
}

// resolveFiles decodes FileArgs and looks every name up. A nil slice means the
// call is already answered by the returned Result and error.
func (r *Registry) resolveFiles(ctx context.Context, tool model.ToolName, arguments string, env Env) ([]resolvedFile, Result, error) {
	var args model.FileArgs
	if err := decodeArgs(tool, arguments, &args); err != nil {
		res, err := argsFailure(tool, err)
		return nil, res, err
	}

	convID := strings.TrimSpace(args.ConversationID)
	if convID == "" {
		convID = env.ConversationID
	}
	if convID == "" {
		return nil, Result{Text: "Error: conversationID is required"}, nil
	}
	if len(args.FileNames) == 0 {
		return nil, Result{Text: "Error: fileNames must list at least one file"}, nil
	}
	if env.Attachments == nil {
		return nil, Result{Text: "Error: attachments are not available"}, nil
	}

	files := make([]resolvedFile, 0, len(args.FileNames))
	for _, name := range args.FileNames {
		if err := ctx.Err(); err != nil {
			return nil, Result{}, err
		}
		att, err := env.Attachments.Attachment(ctx, convID, name)
		switch {
		case errors.Is(err, model.ErrNotFound):
			files = append(files, resolvedFile{name: name, note: fmt.Sprintf("%s: file not found in conversation %s", name, convID)})
		case err != nil:
			return nil, Result{}, model.NewError(model.ErrToolExecution, string(tool), fmt.Errorf("load %s: %w", name, err))
		default:
			files = append(files, resolvedFile{name: name, att: att})
		}
	}
	return files, Result{}, nil
}

func (r *Registry) readPDF(ctx context.Context, arguments string, env Env) (Result, error) {
	return r.readDocuments(ctx, model.ToolPDFReader, arguments, env, func(f resolvedFile) (string, error) {
		if f.att.Kind() != model.KindPDF {
			return fmt.Sprintf("%s: not a PDF file (%s)", f.name, f.att.MIMEType), nil
		}
		return ExtractPDFText(ctx, f.att.Data)
	})
}

func (r *Registry) readFile(ctx context.Context, arguments string, env Env) (Result, error) {
	return r.readDocuments(ctx, model.ToolFileReader, arguments, env, func(f resolvedFile) (string, error) {
		switch f.att.Kind() {
		case model.KindPDF:
			return ExtractPDFText(ctx, f.att.Data)
		case model.KindText:
			return DecodeText(f.att.Data)
		default:
			if utf8.Valid(f.att.Data) {
				return string(f.att.Data), nil
			}
			return fmt.Sprintf("%s: unsupported file type (%s)", f.name, f.att.MIMEType), nil
		}
	})
}

func (r *Registry) readDocuments(ctx context.Context, tool model.ToolName, arguments string, env Env, read func(resolvedFile) (string, error)) (Result, error) {
	files, res, err := r.resolveFiles(ctx, tool, arguments, env)
	if files == nil {
		return res, err
	}

	var parts []string
	for _, f := range files {
		if f.note != "" {
			parts = append(parts, f.note)
			continue
		}
		text, err := read(f)
		if err != nil {
			parts = append(parts, fmt.Sprintf("%s: could not be read: %v", f.name, err))
			continue
		}
		parts = append(parts, fmt.Sprintf("File: %s\n%s", f.name, strings.TrimSpace(text)))
	}
	return Result{Text: truncateChars(strings.Join(parts, "\n\n"), r.opts.Files.MaxChars)}, nil
}

// PDFTimeout bounds one PDF extraction. Some malformed page trees send the
// parser into a loop it never leaves.
var PDFTimeout = 10 * time.Second

// ErrPDFTimeout is returned when extraction does not finish within PDFTimeout.
var ErrPDFTimeout = errors.New("pdf extraction timed out")

type pdfOutcome struct {
	text string
	err  error
}

// pdfCache remembers finished extractions so a document in history is parsed
// once, not on every request built from it.
var pdfCache = struct {
	sync.Mutex
	m map[[sha256.Size]byte]pdfOutcome
}{m: map[[sha256.Size]byte]pdfOutcome{}}

const pdfCacheSize = 64

// ExtractPDFText returns the plain text of every page, pages separated by a
// blank line. It gives up when ctx is done or PDFTimeout passes; the parser
// cannot be interrupted, so a stuck parse is left behind and its document is
// remembered as unreadable.
func ExtractPDFText(ctx context.Context, data []byte) (string, error) {
	key := sha256.Sum256(data)
	pdfCache.Lock()
	cached, ok := pdfCache.m[key]
	pdfCache.Unlock()
	if ok {
		return cached.text, cached.err
	}

	done := make(chan pdfOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- pdfOutcome{err: fmt.Errorf("malformed pdf: %v", p)}
			}
		}()
		text, err := extractPDF(data)
		done <- pdfOutcome{text: text, err: err}
	}()

	timer := time.NewTimer(PDFTimeout)
	defer timer.Stop()

	var out pdfOutcome
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		out = pdfOutcome{err: ErrPDFTimeout}
	case out = <-done:
	}

	pdfCache.Lock()
	if len(pdfCache.m) >= pdfCacheSize {
		clear(pdfCache.m)
	}
	pdfCache.m[key] = out
	pdfCache.Unlock()
	return out.text, out.err
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// DecodeText returns data as a string when it is UTF-8, stripping a byte
// order mark.
func DecodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", errors.New("not valid UTF-8 text")
	}
	return string(data), nil
}
