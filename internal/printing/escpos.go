package printing

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ESC/POS command bytes.
var (
	cmdInit        = []byte{0x1B, 0x40}
	cmdCodePage437 = []byte{0x1B, 0x74, 0x00}
	cmdAlignLeft   = []byte{0x1B, 0x61, 0x00}
	cmdAlignCenter = []byte{0x1B, 0x61, 0x01}
	cmdBoldOn      = []byte{0x1B, 0x45, 0x01}
	cmdBoldOff     = []byte{0x1B, 0x45, 0x00}
	cmdSizeDouble  = []byte{0x1D, 0x21, 0x11}
	cmdSizeNormal  = []byte{0x1D, 0x21, 0x00}
	cmdFeedAndCut  = []byte{0x1D, 0x56, 0x42, 0x03}
)

const DefaultLineWidth = 42

// Renderer lays out jobs as ESC/POS byte streams for 80mm printers.
type Renderer struct {
	width   int
	encoder *encoding.Encoder
}

func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = DefaultLineWidth
	}
	return &Renderer{
		width:   width,
		encoder: encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder()),
	}
}

func (r *Renderer) Render(job PrintJob) ([]byte, error) {
	data := job.OrderData()
	doc := &document{width: r.width}

	doc.raw(cmdInit)
	doc.raw(cmdCodePage437)
	r.header(doc, job.JobType(), data)
	r.items(doc, data, job.JobType().ShowsPrices())
	if job.JobType().ShowsPrices() {
		r.totals(doc, data)
	}
	if data.SpecialInstructions != "" {
		doc.rule('-')
		doc.bold("NOTES")
		doc.wrapped(data.SpecialInstructions, "")
	}
	doc.rule('-')
	doc.raw(cmdAlignCenter)
	doc.line("Printed " + data.PrintedAt.Format("02/01/2006 15:04"))
	doc.raw(cmdAlignLeft)
	doc.raw(cmdFeedAndCut)

	out, err := r.encoder.Bytes(doc.buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	return out, nil
}

func (r *Renderer) header(doc *document, jobType JobType, data OrderData) {
	doc.raw(cmdAlignCenter)
	doc.raw(cmdSizeDouble)
	switch jobType {
	case KitchenTicket:
		doc.line("KITCHEN")
	case Bill:
		doc.line("BILL")
	default:
		doc.line("RECEIPT")
	}
	doc.line("#" + data.OrderNumber)
	doc.raw(cmdSizeNormal)
	doc.line(strings.ReplaceAll(data.OrderType, "_", " "))
	if data.PaymentStatus != "" && jobType == KitchenTicket {
		doc.bold("** " + data.PaymentStatus + " **")
	}
	doc.raw(cmdAlignLeft)
	doc.rule('=')

	if data.TableNumber != "" {
		left := "Table " + data.TableNumber
		right := ""
		if data.GuestCount > 0 {
			right = strconv.Itoa(data.GuestCount) + " guests"
		}
		doc.columns(left, right)
	}
	if data.CustomerName != "" {
		doc.line("Customer: " + data.CustomerName)
	}
	if data.CustomerPhone != "" {
		doc.line("Phone: " + data.CustomerPhone)
	}
	if data.DeliveryAddress != "" {
		doc.wrapped("Deliver to: "+data.DeliveryAddress, "  ")
	}
	if !data.OrderedAt.IsZero() {
		doc.line("Ordered " + data.OrderedAt.Format("15:04"))
	}
}

// items prints one header per section run. Lines arrive already grouped and
// ordered.
func (r *Renderer) items(doc *document, data OrderData, prices bool) {
	section := -1
	for _, it := range data.Items {
		if it.SectionNumber != section {
			section = it.SectionNumber
			doc.rule('-')
			doc.bold(strings.ToUpper(it.SectionName))
		}

		name := strconv.Itoa(it.Quantity) + " x " + it.Name
		if it.Variant != "" {
			name += " (" + it.Variant + ")"
		}
		if prices {
			doc.columns(name, money(it.LineTotal))
		} else {
			doc.bold(name)
		}

		for _, m := range it.Modifiers {
			mod := "  + " + m.Name
			if prices && !m.Free && m.Price != 0 {
				doc.columns(mod, money(m.Price))
				continue
			}
			doc.line(mod)
		}
		if it.Notes != "" {
			doc.wrapped("  ! "+it.Notes, "    ")
		}
	}
}

func (r *Renderer) totals(doc *document, data OrderData) {
	if data.Totals == nil {
		return
	}
	doc.rule('=')
	doc.columns("Subtotal", money(data.Totals.Subtotal))
	if data.Totals.Tip != 0 {
		doc.columns("Tip", money(data.Totals.Tip))
	}
	doc.raw(cmdBoldOn)
	doc.columns("TOTAL", money(data.Totals.Total))
	doc.raw(cmdBoldOff)
	if data.PaymentMethod != "" {
		doc.columns("Payment", data.PaymentMethod)
	}
	if data.PaymentStatus != "" {
		doc.columns("Status", data.PaymentStatus)
	}
}

func money(v float64) string {
	return fmt.Sprintf("£%.2f", v)
}

// document accumulates UTF-8 text and raw commands. Encoding to the printer
// code page happens once at the end; command bytes are all ASCII range so
// they pass through unchanged.
type document struct {
	buf   bytes.Buffer
	width int
}

func (d *document) raw(cmd []byte) {
	d.buf.Write(cmd)
}

// line writes order text. Control characters are dropped so customer input
// cannot inject printer commands.
func (d *document) line(s string) {
	d.buf.WriteString(stripControl(s))
	d.buf.WriteByte('\n')
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r != '\n' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func (d *document) bold(s string) {
	d.raw(cmdBoldOn)
	d.line(s)
	d.raw(cmdBoldOff)
}

func (d *document) rule(ch rune) {
	d.line(strings.Repeat(string(ch), d.width))
}

// columns prints left and right justified text on one line, wrapping the
// left side when both do not fit.
func (d *document) columns(left, right string) {
	gap := d.width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap >= 1 {
		d.line(left + strings.Repeat(" ", gap) + right)
		return
	}
	d.wrapped(left, "  ")
	pad := d.width - utf8.RuneCountInString(right)
	if pad < 0 {
		pad = 0
	}
	d.line(strings.Repeat(" ", pad) + right)
}

func (d *document) wrapped(s, indent string) {
	for _, l := range wrap(s, d.width, indent) {
		d.line(l)
	}
}

func wrap(s string, width int, indent string) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	current := ""
	for _, w := range words {
		candidate := w
		if current != "" {
			candidate = current + " " + w
		}
		if utf8.RuneCountInString(candidate) <= width || current == "" {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = indent + w
	}
	return append(lines, current)
}
