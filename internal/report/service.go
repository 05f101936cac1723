package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/signintech/gopdf"

	"homedoc/internal/conversation"
)

// TelegramClient defines the interface for delivering reports to the
// on-call doctor chat.
type TelegramClient interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, fileData []byte, fileName string) error
}

type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
}

func NewService(tg TelegramClient, doctorChatID int64) *Service {
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
	}
}

// Common font locations across the base images we deploy on.
var fontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// SendDoctorReport renders a PDF summary of a saved conversation and
// delivers it to the doctor chat. High-severity cases get an extra text
// alert so they surface even before the document is opened.
func (s *Service) SendDoctorReport(ctx context.Context, rec conversation.Record) error {
	analysis := rec.FinalAnalysis
	if analysis == nil {
		return errors.New("record has no final analysis")
	}

	pdfData, err := buildPDF(rec)
	if err != nil {
		return err
	}

	if analysis.Severity == conversation.SeverityHigh {
		alert := fmt.Sprintf("High-severity consultation: %s (%d%% confidence). Report attached.",
			analysis.Diagnosis, analysis.Confidence)
		if err := s.tgClient.SendMessage(s.doctorChatID, alert); err != nil {
			return errors.Wrap(err, "send alert message")
		}
	}

	fileName := fmt.Sprintf("consultation_%s.pdf", rec.ID.String())
	if err := s.tgClient.SendDocument(s.doctorChatID, pdfData, fileName); err != nil {
		return errors.Wrap(err, "send report document")
	}
	return nil
}

func buildPDF(rec conversation.Record) ([]byte, error) {
	analysis := rec.FinalAnalysis

	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, errors.Wrap(fontErr, "failed to load PDF font, is ttf-dejavu installed")
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "HomeDoc Consultation Report")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Date: %s", rec.CreatedAt.Format("02 Jan 2006 15:04")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Patient ID: %s", rec.OwnerID))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Title: %s", rec.Title))
	pdf.Br(25)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "AI Analysis:")
	pdf.Br(15)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return nil, err
	}
	analysisLines := []string{
		fmt.Sprintf("Diagnosis: %s", analysis.Diagnosis),
		fmt.Sprintf("Severity: %s (confidence: %d%%)", analysis.Severity, analysis.Confidence),
		fmt.Sprintf("Recommendation: %s", analysis.Recommendation),
	}
	if analysis.AdditionalNotes != "" {
		analysisLines = append(analysisLines, fmt.Sprintf("Notes: %s", analysis.AdditionalNotes))
	}
	for _, line := range analysisLines {
		wrapped, _ := pdf.SplitText(line, 500)
		for _, l := range wrapped {
			pdf.Cell(nil, l)
			pdf.Br(12)
		}
		pdf.Br(5)
	}
	pdf.Br(15)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Reported Symptoms:")
	pdf.Br(15)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return nil, err
	}
	reported := 0
	for _, msg := range rec.Messages {
		if msg.Author != conversation.AuthorUser {
			continue
		}
		reported++
		wrapped, _ := pdf.SplitText("- "+msg.Text, 500)
		for _, l := range wrapped {
			pdf.Cell(nil, l)
			pdf.Br(12)
		}
		pdf.Br(5)
	}
	if reported == 0 {
		pdf.Cell(nil, "- None recorded.")
		pdf.Br(15)
	}

	pdf.SetY(270)
	if err := pdf.SetFont("DejaVu", "", 9); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Generated by HomeDoc AI on %s. Not a substitute for a medical exam.",
		time.Now().Format("02 Jan 2006")))

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "write PDF")
	}
	return buf.Bytes(), nil
}
