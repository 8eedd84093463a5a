package printing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type JobType string

const (
	KitchenTicket   JobType = "KITCHEN_TICKET"
	CustomerReceipt JobType = "CUSTOMER_RECEIPT"
	Bill            JobType = "BILL"
)

var JobTypes = []JobType{KitchenTicket, CustomerReceipt, Bill}

func ParseJobType(s string) (JobType, error) {
	t := JobType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range JobTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Template is the layout identifier sent along with queued jobs.
func (t JobType) Template() string {
	return strings.ToLower(string(t)) + "_v1"
}

// ShowsPrices reports whether the layout prints money columns.
func (t JobType) ShowsPrices() bool {
	return t == CustomerReceipt || t == Bill
}

type ModifierData struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Free  bool    `json:"free"`
}

type ItemData struct {
	Name          string         `json:"name"`
	Variant       string         `json:"variant,omitempty"`
	Quantity      int            `json:"quantity"`
	UnitPrice     float64        `json:"unitPrice"`
	LineTotal     float64        `json:"lineTotal"`
	Modifiers     []ModifierData `json:"modifiers,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	SectionNumber int            `json:"sectionNumber"`
	SectionName   string         `json:"sectionName"`
	IsGrouped     bool           `json:"isGrouped"`
}

type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Tip      float64 `json:"tip"`
	Total    float64 `json:"total"`
}

// OrderData is the structured snapshot a job is rendered from. Items are
// already grouped and ordered by section; renderers only lay them out.
type OrderData struct {
	Template            string     `json:"template"`
	OrderID             string     `json:"orderId"`
	OrderNumber         string     `json:"orderNumber"`
	OrderType           string     `json:"orderType"`
	Source              string     `json:"source"`
	TableNumber         string     `json:"tableNumber,omitempty"`
	GuestCount          int        `json:"guestCount,omitempty"`
	CustomerName        string     `json:"customerName,omitempty"`
	CustomerPhone       string     `json:"customerPhone,omitempty"`
	DeliveryAddress     string     `json:"deliveryAddress,omitempty"`
	SpecialInstructions string     `json:"specialInstructions,omitempty"`
	PaymentStatus       string     `json:"paymentStatus,omitempty"`
	PaymentMethod       string     `json:"paymentMethod,omitempty"`
	Items               []ItemData `json:"items"`
	Totals              *Totals    `json:"totals,omitempty"`
	OrderedAt           time.Time  `json:"orderedAt"`
	PrintedAt           time.Time  `json:"printedAt"`
}

// PrintJob is write-once. Its order data is copied in on creation and out
// on every read, so nothing outside the job can change what gets printed.
type PrintJob struct {
	id        string
	jobType   JobType
	orderData OrderData
	printerID string
	priority  int
	createdAt time.Time
}

// NewPrintJob snapshots data into a new job targeting any printer.
func NewPrintJob(jobType JobType, data OrderData, priority int, now time.Time) (PrintJob, error) {
	snapshot, err := copyOrderData(data)
	if err != nil {
		return PrintJob{}, fmt.Errorf("snapshot order data: %w", err)
	}
	return PrintJob{
		id:        uuid.NewString(),
		jobType:   jobType,
		orderData: snapshot,
		priority:  priority,
		createdAt: now,
	}, nil
}

func (j PrintJob) ID() string           { return j.id }
func (j PrintJob) JobType() JobType     { return j.jobType }
func (j PrintJob) Priority() int        { return j.priority }
func (j PrintJob) CreatedAt() time.Time { return j.createdAt }

// PrinterID is empty when any printer may take the job.
func (j PrintJob) PrinterID() string { return j.printerID }

func (j PrintJob) OrderData() OrderData {
	data, err := copyOrderData(j.orderData)
	if err != nil {
		// copier only fails on mismatched kinds, which cannot happen for
		// identical types.
		panic(err)
	}
	return data
}

func (j PrintJob) IsZero() bool {
	return j.id == ""
}

type printJobWire struct {
	JobID     string    `json:"jobId"`
	JobType   JobType   `json:"jobType"`
	OrderData OrderData `json:"orderData"`
	PrinterID *string   `json:"printerId"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// MarshalJSON produces the submission payload. A null printerId means any
// printer.
func (j PrintJob) MarshalJSON() ([]byte, error) {
	w := printJobWire{
		JobID:     j.id,
		JobType:   j.jobType,
		OrderData: j.orderData,
		Priority:  j.priority,
		CreatedAt: j.createdAt,
	}
	if j.printerID != "" {
		id := j.printerID
		w.PrinterID = &id
	}
	return json.Marshal(w)
}

// copyOrderData returns a copy sharing no memory with src. Scalars copy by
// value; the item tree goes through copier.
func copyOrderData(src OrderData) (OrderData, error) {
	dst := src
	dst.Items = nil
	if src.Items != nil {
		dst.Items = make([]ItemData, 0, len(src.Items))
		if err := copier.CopyWithOption(&dst.Items, &src.Items, copier.Option{DeepCopy: true}); err != nil {
			return OrderData{}, err
		}
	}
	if src.Totals != nil {
		totals := *src.Totals
		dst.Totals = &totals
	}
	return dst, nil
}
