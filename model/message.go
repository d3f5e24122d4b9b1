package model

// Kind classifies an attachment by its decoded filename extension.
type Kind int

const (
	KindIgnored Kind = iota
	KindSpreadsheet
	KindPdf
)

func (k Kind) String() string {
	switch k {
	case KindSpreadsheet:
		return "spreadsheet"
	case KindPdf:
		return "pdf"
	default:
		return "ignored"
	}
}

// MailMessage is a single message pulled from the mailbox. ID is the
// server-assigned identifier and the unit of idempotency.
type MailMessage struct {
	ID  string
	Raw []byte
}

// AttachmentPart is one decoded attachment. Filename is already decoded from
// its transport encoding and safe for filesystem use.
type AttachmentPart struct {
	Filename string
	Kind     Kind
	Data     []byte
}

// TallyRecord holds the parsed vote counts reported by one branch.
// BranchCode is the natural key.
type TallyRecord struct {
	BranchCode   string
	Total        int
	ListaBlanca  int
	ListaCeleste int
	Blank        int
	Annulled     int
	Contested    int
	Observed     int
}

// Outcome is the routing decision for a spreadsheet attachment. It determines
// the directory the spreadsheet lands in and, once per message, where the
// sibling PDFs go.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeProcessed
	OutcomeDuplicate
	OutcomeParseError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeParseError:
		return "parse_error"
	default:
		return "none"
	}
}
