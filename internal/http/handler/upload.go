package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"

	"crmapi/internal/service"
)

// DocumentField is the multipart field carrying a customer document.
const DocumentField = "document"

// allowedTypes maps accepted extensions to their canonical content type.
var allowedTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv":  "text/csv",
}

var (
	errUnsupportedType = errors.New("unsupported file type")
	errFileTooLarge    = errors.New("file too large")
)

// UploadPolicy bounds customer document uploads.
type UploadPolicy struct {
	MaxBytes int64
}

// documentFromForm extracts the optional document of a multipart request. It returns a nil
// Upload when the request is not multipart or carries no document. The caller closes the file.
func documentFromForm(c *fiber.Ctx, policy UploadPolicy) (*service.Upload, io.Closer, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return nil, nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, err
	}
	files := form.File[DocumentField]
	if len(files) == 0 {
		return nil, nil, nil
	}
	return openDocument(files[0], policy)
}

func openDocument(fh *multipart.FileHeader, policy UploadPolicy) (*service.Upload, io.Closer, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	canonical, ok := allowedTypes[ext]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", errUnsupportedType, ext)
	}
	if policy.MaxBytes > 0 && fh.Size > policy.MaxBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes exceeds %d", errFileTooLarge, fh.Size, policy.MaxBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	contentType, err := sniff(f, ext, canonical)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &service.Upload{
		Reader:      f,
		Size:        fh.Size,
		Name:        fh.Filename,
		ContentType: contentType,
	}, f, nil
}

// sniff detects the content type from the leading bytes and rewinds f. The detected type is
// used when it agrees with an allowed type; otherwise the extension's canonical type wins.
func sniff(f multipart.File, ext, canonical string) (string, error) {
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	for _, allowed := range allowedTypes {
		if mt.Is(allowed) {
			return allowed, nil
		}
	}
	return canonical, nil
}

// uploadError writes the response for a rejected document.
func uploadError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errUnsupportedType):
		return writeError(c, fiber.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE",
			"Invalid file type. Only images, PDFs, Word, Excel, and CSV files are allowed.")
	case errors.Is(err, errFileTooLarge):
		return writeError(c, fiber.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "File too large")
	default:
		return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot read uploaded file")
	}
}
