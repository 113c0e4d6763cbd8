// Package report renders PDF reports for stored predictions.
package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// Data carries everything one report needs.
type Data struct {
	PredictionID     int64
	Username         string
	Email            string
	PredictedClass   string
	ConfidenceCancer float64
	ConfidenceNormal float64
	OriginalImage    string
	HeatmapImage     string
	CreatedAt        time.Time
}

type palette struct {
	title, heading, label, cancer, normal, muted [3]int
}

var colors = palette{
	title:   [3]int{0x1e, 0x3a, 0x8a},
	heading: [3]int{0x1e, 0x40, 0xaf},
	label:   [3]int{0x4b, 0x56, 0x63},
	cancer:  [3]int{0xdc, 0x26, 0x26},
	normal:  [3]int{0x16, 0xa3, 0x4a},
	muted:   [3]int{0x6b, 0x72, 0x80},
}

// Generate writes the PDF report to outputPath.
func Generate(outputPath string, d Data) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	addTitle(pdf)
	addReportInfo(pdf, d)
	addResults(pdf, d)
	addImages(pdf, d)
	addSummary(pdf, d)
	addDisclaimer(pdf)

	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		return fmt.Errorf("write PDF report: %w", err)
	}
	return nil
}

func setColor(pdf *fpdf.Fpdf, c [3]int) {
	pdf.SetTextColor(c[0], c[1], c[2])
}

func heading(pdf *fpdf.Fpdf, text string) {
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 16)
	setColor(pdf, colors.heading)
	pdf.CellFormat(0, 9, text, "", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func addTitle(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 24)
	setColor(pdf, colors.title)
	pdf.CellFormat(0, 14, "Bone Cancer Detection Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)
}

func infoRow(pdf *fpdf.Fpdf, label, value string) {
	pdf.SetFont("Helvetica", "", 11)
	setColor(pdf, colors.label)
	pdf.CellFormat(55, 8, label, "", 0, "R", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 8, value, "", 1, "L", false, 0, "")
}

func addReportInfo(pdf *fpdf.Fpdf, d Data) {
	heading(pdf, "Report Information")
	infoRow(pdf, "Report Date:", time.Now().Format("2006-01-02 15:04:05"))
	infoRow(pdf, "Patient ID:", d.Username)
	infoRow(pdf, "Report ID:", fmt.Sprintf("BCR-%s-%d", d.CreatedAt.Format("20060102150405"), d.PredictionID))
}

func addResults(pdf *fpdf.Fpdf, d Data) {
	heading(pdf, "Detection Results")

	status := "NORMAL"
	statusColor := colors.normal
	if d.PredictedClass == "cancer" {
		status = "CANCER DETECTED"
		statusColor = colors.cancer
	}

	pdf.SetFont("Helvetica", "", 11)
	setColor(pdf, colors.label)
	pdf.CellFormat(55, 8, "Classification:", "1", 0, "R", false, 0, "")
	pdf.SetFont("Helvetica", "B", 11)
	setColor(pdf, statusColor)
	pdf.CellFormat(0, 8, status, "1", 1, "L", false, 0, "")

	resultRow(pdf, "Cancer Confidence:", fmt.Sprintf("%.2f%%", d.ConfidenceCancer*100))
	resultRow(pdf, "Normal Confidence:", fmt.Sprintf("%.2f%%", d.ConfidenceNormal*100))
	resultRow(pdf, "Model Accuracy:", "~97% (based on validation)")
}

func resultRow(pdf *fpdf.Fpdf, label, value string) {
	pdf.SetFont("Helvetica", "", 11)
	setColor(pdf, colors.label)
	pdf.CellFormat(55, 8, label, "1", 0, "R", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 8, value, "1", 1, "L", false, 0, "")
}

func addImages(pdf *fpdf.Fpdf, d Data) {
	heading(pdf, "Visual Analysis")

	const imgSize = 65.0
	x := pdf.GetX()
	y := pdf.GetY()

	placed := 0
	for _, img := range []struct{ path, caption string }{
		{d.OriginalImage, "Original X-ray"},
		{d.HeatmapImage, "Saliency Heatmap"},
	} {
		if img.path == "" {
			continue
		}
		if _, err := os.Stat(img.path); err != nil {
			continue
		}
		ix := x + float64(placed)*(imgSize+15)
		pdf.ImageOptions(img.path, ix, y, imgSize, imgSize, false,
			fpdf.ImageOptions{ReadDpi: true}, 0, "")
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetXY(ix, y+imgSize+2)
		pdf.CellFormat(imgSize, 6, img.caption, "", 0, "C", false, 0, "")
		placed++
	}
	if placed > 0 {
		pdf.SetXY(x, y+imgSize+10)
	}
}

func addSummary(pdf *fpdf.Fpdf, d Data) {
	heading(pdf, "Analysis Summary")

	confidence := d.ConfidenceNormal
	if d.PredictedClass == "cancer" {
		confidence = d.ConfidenceCancer
	}

	var text string
	if d.PredictedClass == "cancer" {
		text = fmt.Sprintf(
			"The model has detected abnormal patterns in the X-ray image that are consistent "+
				"with bone cancer, with a confidence of %.2f%%. The saliency heatmap highlights the "+
				"regions that most influenced this classification; red and yellow areas indicate "+
				"regions of high importance. This is a preliminary screening result. Immediate "+
				"consultation with a qualified radiologist or oncologist is strongly recommended "+
				"for confirmation and treatment planning.", confidence*100)
	} else {
		text = fmt.Sprintf(
			"The model has classified the X-ray as normal with a confidence of %.2f%%. No "+
				"significant abnormalities consistent with bone cancer were detected. The saliency "+
				"heatmap shows the regions that influenced this classification. While this result "+
				"is encouraging, it should not replace professional medical evaluation.", confidence*100)
	}

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(0, 0, 0)
	pdf.MultiCell(0, 6, text, "", "L", false)
}

func addDisclaimer(pdf *fpdf.Fpdf) {
	heading(pdf, "Medical Disclaimer")

	lines := []string{
		"This report is generated by an automated screening system for preliminary purposes only.",
		"It is NOT a substitute for professional medical diagnosis.",
		"This analysis should not be used as the sole basis for medical decisions.",
		"False positives and false negatives are possible with any automated system.",
		"Always consult qualified medical professionals for diagnosis and treatment.",
		"For medical emergencies, contact your healthcare provider or emergency services immediately.",
	}
	pdf.SetFont("Helvetica", "", 9)
	setColor(pdf, colors.muted)
	pdf.MultiCell(0, 5, strings.Join(lines, "\n"), "1", "L", false)
}
