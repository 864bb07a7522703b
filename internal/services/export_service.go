package services

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/pkg/money"
	"gorm.io/gorm"
)

// ExportService renders admin exports of instance registrations.
type ExportService struct {
	db *gorm.DB
}

func NewExportService(db *gorm.DB) *ExportService {
	return &ExportService{db: db}
}

type participantRow struct {
	Account     string
	Registrant  string
	PaymentType string
	Price       string
	Complete    string
}

// ParticipantsPDF renders the registrant list of one instance, one row per
// seat, including family members registered under an account.
func (s *ExportService) ParticipantsPDF(inst *models.EventInstance, eff *models.EventBlueprint) ([]byte, error) {
	rows, err := s.participantRows(inst)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, fmt.Sprintf("Participants: %s", eventTitle(eff)))
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 8, fmt.Sprintf("%s - %d registered",
		inst.ScheduledDate.Format("Mon, 02 Jan 2006 15:04"), inst.SeatsFilled))
	pdf.Ln(12)

	widths := []float64{50, 50, 25, 25, 30}
	headers := []string{"Account", "Registrant", "Payment", "Price", "Paid"}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, r := range rows {
		cells := []string{r.Account, r.Registrant, r.PaymentType, r.Price, r.Complete}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 8, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (s *ExportService) participantRows(inst *models.EventInstance) ([]participantRow, error) {
	var rows []participantRow
	for uid, entry := range inst.RegistrationDetails {
		account := uid
		var user models.User
		if parsed, err := uuid.Parse(uid); err == nil {
			if err := s.db.First(&user, "id = ?", parsed).Error; err == nil {
				account = user.Name
			}
		}

		appendRow := func(personID, name string) {
			row := participantRow{Account: account, Registrant: name}
			if pd := entry.PaymentFor(personID); pd != nil {
				row.PaymentType = string(pd.Type)
				row.Price = money.Format(pd.Price)
				if pd.PaymentComplete {
					row.Complete = "yes"
				} else {
					row.Complete = "no"
				}
			}
			rows = append(rows, row)
		}

		if entry.SelfRegistered {
			appendRow(models.SelfPersonID, account)
		}
		for _, fid := range entry.FamilyRegistered {
			name := fid
			if fm := user.FamilyMembers.Find(fid); fm != nil {
				name = fm.Name
			}
			appendRow(fid, name)
		}
	}
	return rows, nil
}
