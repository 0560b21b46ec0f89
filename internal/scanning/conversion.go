package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Receipts are almost always a single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	return encodePNG(img)
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Go's image package has no HEIC decoder; iPhones upload these by default
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC/HEIF brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// normalizeMimeType lowercases the declared type, strips parameters, and
// sniffs the bytes when nothing usable was declared
func normalizeMimeType(contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	if isHEICFormat(data) {
		mimeType = "image/heic"
	}
	return mimeType
}

// prepareImage converts PDFs and non-PNG images to PNG. Input that cannot be
// converted is forwarded unchanged so the model still gets to see it.
// The boolean reports whether a conversion happened.
func prepareImage(img Image) (Image, bool) {
	mimeType := normalizeMimeType(img.ContentType, img.Data)
	if mimeType == "image/png" {
		return Image{Data: img.Data, ContentType: mimeType, Filename: img.Filename}, false
	}

	var (
		pngData []byte
		err     error
	)
	if mimeType == "application/pdf" {
		pngData, err = pdfToImage(img.Data)
	} else {
		pngData, err = imageToPNG(img.Data, mimeType)
	}
	if err != nil {
		slog.Warn("Forwarding receipt without conversion",
			"filename", img.Filename,
			"content_type", mimeType,
			"file_size", len(img.Data),
			"error", err,
		)
		return Image{Data: img.Data, ContentType: mimeType, Filename: img.Filename}, false
	}

	return Image{Data: pngData, ContentType: "image/png", Filename: img.Filename}, true
}
