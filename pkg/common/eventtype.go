package common

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// EventType is the controlled category of an extracted event.
type EventType string

const (
	EventCSRBrand          EventType = "CSR/brand"
	EventDeal              EventType = "Deal"
	EventDividend          EventType = "Dividend"
	EventEmployment        EventType = "Employment"
	EventExpense           EventType = "Expense"
	EventFacility          EventType = "Facility"
	EventFinancialReport   EventType = "FinancialReport"
	EventFinancing         EventType = "Financing"
	EventInvestment        EventType = "Investment"
	EventLegal             EventType = "Legal"
	EventMacroeconomics    EventType = "Macroeconomics"
	EventMergerAcquisition EventType = "Merger/acquisition"
	EventProductService    EventType = "Product/service"
	EventProfitLoss        EventType = "Profit/loss"
	EventRating            EventType = "Rating"
	EventRevenue           EventType = "Revenue"
	EventSalesVolume       EventType = "SalesVolume"
	EventSecurityValue     EventType = "SecurityValue"
)

type eventTypeDef struct {
	Type       EventType
	Definition string
}

var eventTypeDefs = []eventTypeDef{
	{EventCSRBrand, "Social responsibility or reputation actions such as donations, sustainability programmes or awards."},
	{EventDeal, "Commercial contracts and large orders without a change of control, for example supply agreements or key customer wins."},
	{EventDividend, "Dividend initiation, increase, cut, suspension or special payout."},
	{EventEmployment, "Workforce moves: hiring plans, layoffs, management changes and HR policy updates."},
	{EventExpense, "Notable cost items or programmes such as restructuring charges, cost cutting or opex guidance."},
	{EventFacility, "Physical capacity changes: building, expanding, commissioning, closing or restarting plants, mines or data centres."},
	{EventFinancialReport, "Published results and related disclosures: reported metrics, guidance, restatements, beats or misses."},
	{EventFinancing, "Debt or equity funding and liquidity lines: issuance, refinancing, debt buybacks, CP or revolver usage, maturities and coupons."},
	{EventInvestment, "Capital projects, minority stakes and joint ventures that do not transfer control."},
	{EventLegal, "Litigation and regulatory actions: lawsuits, settlements, fines, approvals, revocations and injunctions."},
	{EventMacroeconomics, "Broad macro or policy conditions hitting the company or its sector, such as rates, tariffs or sector regulation."},
	{EventMergerAcquisition, "Transactions that change control: acquisitions, mergers, divestitures and spin-offs."},
	{EventProductService, "Product or service actions: launches, price changes, recalls and discontinuations."},
	{EventProfitLoss, "Profitability statements outside a full results section, for example a net loss or a break-even point."},
	{EventRating, "Credit rating actions: affirmations, upgrades, downgrades, outlook or watch changes."},
	{EventRevenue, "Top-line levels, growth or guidance mentioned outside a full results context."},
	{EventSalesVolume, "Unit or throughput figures such as shipments, production or utilisation without a revenue figure."},
	{EventSecurityValue, "Market price or valuation moves of the company's securities and their stated drivers."},
}

// EventTypes returns all event types in their canonical order.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypeDefs))
	for i, d := range eventTypeDefs {
		out[i] = d.Type
	}
	return out
}

// Definition returns the human readable definition of the event type.
func (t EventType) Definition() string {
	for _, d := range eventTypeDefs {
		if d.Type == t {
			return d.Definition
		}
	}
	return ""
}

func (t EventType) Valid() bool {
	return t.Definition() != ""
}

// ParseEventType matches case-insensitively and returns the canonical spelling.
func ParseEventType(s string) (EventType, error) {
	s = strings.TrimSpace(s)
	for _, d := range eventTypeDefs {
		if strings.EqualFold(string(d.Type), s) {
			return d.Type, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventType, s)
}

// EventTypeGuide renders the definitions as a bullet list for prompts.
func EventTypeGuide() string {
	var sb strings.Builder
	for _, d := range eventTypeDefs {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Type, d.Definition)
	}
	return sb.String()
}

// JSONSchema restricts the field to the enum in generated response schemas.
func (EventType) JSONSchema() *jsonschema.Schema {
	enum := make([]any, len(eventTypeDefs))
	for i, d := range eventTypeDefs {
		enum[i] = string(d.Type)
	}
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Category of the event, one of the allowed event types.",
	}
}
