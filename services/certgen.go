package services

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// CertificateData carries everything the renderer needs.
// Branding fields come from the issuer snapshot so the PDF matches what
// the community looked like at issue time.
type CertificateData struct {
	RecipientName     string // Full name, falling back to username
	EventTitle        string
	OrganizerUsername string
	CommunityName     string
	AccentHex         string // Primary HEX color, e.g. #FF5733
	BackgroundPath    string // Optional full-page template image
	LogoPath          string // Optional corner logo
}

const defaultAccentHex = "#2c3e50"

// parseHexColor converts #RRGGBB to RGB components.
// Invalid input falls back to the default accent.
func parseHexColor(hex string) (int, int, int) {
	hex = strings.TrimSpace(hex)
	if !strings.HasPrefix(hex, "#") || len(hex) != 7 {
		hex = defaultAccentHex
	}
	r, err1 := strconv.ParseInt(hex[1:3], 16, 0)
	g, err2 := strconv.ParseInt(hex[3:5], 16, 0)
	b, err3 := strconv.ParseInt(hex[5:7], 16, 0)
	if err1 != nil || err2 != nil || err3 != nil {
		return parseHexColor(defaultAccentHex)
	}
	return int(r), int(g), int(b)
}

// imageType guesses the gofpdf image type from a file extension
func imageType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "JPG"
	case ".gif":
		return "GIF"
	default:
		return "PNG"
	}
}

// GenerateCertificatePDF renders a participation certificate as PDF bytes.
// Layout is landscape A4 with community branding where available.
func GenerateCertificatePDF(data CertificateData) ([]byte, error) {
	pdf := gofpdf.New("L", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	width, height := pdf.GetPageSize()
	margin := 30.0

	// Optional background template drawn across the full page
	if data.BackgroundPath != "" {
		if _, err := os.Stat(data.BackgroundPath); err == nil {
			opts := gofpdf.ImageOptions{ImageType: imageType(data.BackgroundPath)}
			pdf.ImageOptions(data.BackgroundPath, 0, 0, width, height, false, opts, 0, "")
		}
	}

	r, g, b := parseHexColor(data.AccentHex)

	// Border
	pdf.SetDrawColor(r, g, b)
	pdf.SetLineWidth(4)
	pdf.Rect(margin, margin, width-2*margin, height-2*margin, "D")

	// Title
	pdf.SetTextColor(r, g, b)
	pdf.SetFont("Helvetica", "B", 36)
	title := "Certificate of Participation"
	pdf.Text((width-pdf.GetStringWidth(title))/2, 120, title)

	// Body
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 18)

	nameText := fmt.Sprintf("This is to certify that %s", data.RecipientName)
	eventText := fmt.Sprintf("has successfully participated in the event %q.", data.EventTitle)

	pdf.Text((width-pdf.GetStringWidth(nameText))/2, 200, nameText)
	pdf.Text((width-pdf.GetStringWidth(eventText))/2, 230, eventText)

	// Footer
	communityName := data.CommunityName
	if communityName == "" {
		communityName = "COS Community"
	}
	organizerName := data.OrganizerUsername
	if organizerName == "" {
		organizerName = "Organizer"
	}

	pdf.SetFont("Helvetica", "I", 12)
	footerLeft := fmt.Sprintf("Issued by %s", communityName)
	footerRight := fmt.Sprintf("Event Organizer: %s", organizerName)

	pdf.Text(margin+10, height-80, footerLeft)
	pdf.Text(width-margin-10-pdf.GetStringWidth(footerRight), height-80, footerRight)

	// Optional logo in the top-right corner
	if data.LogoPath != "" {
		if _, err := os.Stat(data.LogoPath); err == nil {
			opts := gofpdf.ImageOptions{ImageType: imageType(data.LogoPath)}
			pdf.ImageOptions(data.LogoPath, width-180, 80, 120, 120, false, opts, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render certificate PDF: %w", err)
	}

	return buf.Bytes(), nil
}

// SaveCertificatePDF writes rendered PDF bytes under the media root and
// returns the relative media path stored on the certificate row.
func SaveCertificatePDF(mediaRoot string, certificateID string, pdfBytes []byte) (string, error) {
	relPath := filepath.ToSlash(filepath.Join("certificates", fmt.Sprintf("certificate_%s.pdf", certificateID)))
	absPath := filepath.Join(mediaRoot, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create certificates directory: %w", err)
	}

	if err := os.WriteFile(absPath, pdfBytes, 0o644); err != nil {
		return "", fmt.Errorf("failed to write certificate PDF: %w", err)
	}

	return relPath, nil
}
