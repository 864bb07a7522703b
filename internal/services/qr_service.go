package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/koinonia/backend/internal/config"
	"github.com/koinonia/backend/internal/models"
	jwtpkg "github.com/koinonia/backend/pkg/jwt"
	qrcode "github.com/skip2/go-qrcode"
)

type QRService struct {
	cfg *config.Config
}

func NewQRService(cfg *config.Config) *QRService { return &QRService{cfg: cfg} }

// checkinURL builds the signed check-in link a door volunteer scans.
func (s *QRService) checkinURL(uid string, instanceID string) (string, error) {
	token, err := jwtpkg.GenerateCheckinToken(uid, instanceID, s.cfg.JWTSecret, 7*24*time.Hour)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/checkin?token=%s", s.cfg.FrontendURL, token), nil
}

// GenerateCheckinQR returns a PNG QR code for the user's registration.
func (s *QRService) GenerateCheckinQR(uid string, inst *models.EventInstance) ([]byte, error) {
	url, err := s.checkinURL(uid, inst.ID.String())
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(url, qrcode.Medium, 512)
}

// GenerateCheckinQRPDF generates an A4 PDF carrying the check-in QR code.
func (s *QRService) GenerateCheckinQRPDF(uid string, inst *models.EventInstance, eff *models.EventBlueprint) ([]byte, error) {
	url, err := s.checkinURL(uid, inst.ID.String())
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(url, qrcode.Medium, 512)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, eventTitle(eff))
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 6, fmt.Sprintf("Date: %s\nLocation: %s",
		inst.ScheduledDate.Format("Mon, 02 Jan 2006 15:04"), eff.LocationAddress), "", "L", false)

	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	pdf.RegisterImageOptionsReader("qr", opt, bytes.NewReader(png))

	x := (210.0 - 100.0) / 2.0
	y := pdf.GetY() + 10
	pdf.ImageOptions("qr", x, y, 100, 100, false, opt, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
