// Package rules extracts variables from report sentences with fixed banks of
// regular expressions. It needs no extraction model and serves as an
// alternative source of variables for a section.
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/segment"
)

const (
	UnitBillion = "USD_bn"
	UnitMillion = "USD_mn"
	UnitDate    = "date"
	UnitYear    = "year"
	UnitEnum    = "enum"
)

// Match is one variable found by a rule. Evidence is the matched text.
type Match struct {
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Value    string `json:"value"`
	Evidence string `json:"evidence"`
}

// Entity converts the match into a variable without ids.
func (m Match) Entity() common.Entity {
	e := common.Entity{
		Kind:     common.KindVariable,
		Name:     m.Name,
		Value:    m.Value,
		Evidence: m.Evidence,
	}
	if m.Unit != "" {
		e.Unit = common.Ptr(m.Unit)
	}
	return e
}

const (
	moneyAmount = `(?:\$|usd)\s*([\d.,]+)(?:\s*(billion|bn|million|mn|m)\b)?`
	dueDate     = `([A-Za-z]{3,9}\.?\s*\d{4}|\b[A-Za-z]{3}\b\s*\d{4}|\b[A-Za-z]{3,9}\s*\d{1,2},\s*\d{4}|\d{4}-\d{2})`
)

var (
	money = regexp.MustCompile(`(?i)(?:usd|\$|eur|sgd|hkd|cny|rmb)\s*([\d.,]+)(?:\s*(billion|bn|million|mn|m)\b)?`)
	due   = regexp.MustCompile(`(?i)\bdue\b\s+(?:in\s+)?` + dueDate)

	cashBalance  = regexp.MustCompile(`(?i)\bcash (?:and )?cash equivalents\b`)
	cpProgram    = regexp.MustCompile(`(?i)\b(cp program|commercial paper)\b`)
	rcf          = regexp.MustCompile(`(?i)\b(rcf|revolving credit facility)\b`)
	revolver     = regexp.MustCompile(`(?i)\brevolver\b`)
	maturityPair = regexp.MustCompile(`(?i)(?:notes?|bonds?|debt|amount)\D{0,20}` + moneyAmount + `\D{0,50}\bdue\b\s+(?:in\s+)?` + dueDate)

	buybackStart = regexp.MustCompile(`(?i)\bbegan (?:a )?share repurchase program in (\d{4})\b`)
	buybackNone  = regexp.MustCompile(`(?i)\b(?:did not repurchase|no repurchases)\b(?:.*?\b([1-4]Q)\s*(20\d{2})\b|\b.*?\b(20\d{2})\b)`)

	ratingAction = regexp.MustCompile(`(?i)\b(affirmed?|upgraded?|downgraded?)\b`)
	outlook      = regexp.MustCompile(`(?i)\boutlook\b.*?\b(stable|positive|negative)\b`)

	fine    = regexp.MustCompile(`(?i)\b(fine|penalty|penalties)\b`)
	lawsuit = regexp.MustCompile(`(?i)\b(lawsuit|litigation|settlement|injunction)\b`)
	licence = regexp.MustCompile(`(?i)\b(license|licence)\b.*?\b(approved|revoked|suspended)\b`)

	guidance  = regexp.MustCompile(`(?i)\bguidance\b.*?\b(raised|cut|reiterated)\b`)
	ebitda    = regexp.MustCompile(`(?i)\bebitda\b`)
	revenueTo = regexp.MustCompile(`(?i)\brevenue\b.*?\b(rise|grow|increase|decline|drop|fall|beat|miss)\b`)

	acquisition   = regexp.MustCompile(`(?i)\b(acquire|acquisition|takeover|buyout)\b`)
	divestiture   = regexp.MustCompile(`(?i)\b(divest|disposal|asset sale|spin[- ]?off|carve[- ]?out)\b`)
	consideration = regexp.MustCompile(`(?i)(?:enterprise value|consideration)\D{0,10}` + moneyAmount)

	facility = regexp.MustCompile(`(?i)\b(plant|facility|datacenter|mine|refinery|line)\b`)
	opsVerb  = regexp.MustCompile(`(?i)\b(commission|expand|shutdown|restart|launch|recall|withdraw)\b`)
	capacity = regexp.MustCompile(`(?i)\bcapacity\b.*?([\d.,]+\s*(mw|gw|kt|mt|units?))\b`)

	isoMonth  = regexp.MustCompile(`^\d{4}-\d{2}$`)
	monthYear = regexp.MustCompile(`([A-Za-z]{3,9})\s*(?:\d{1,2},\s*)?(\d{4})`)
	yearOnly  = regexp.MustCompile(`\b(20\d{2})\b`)
)

var months = map[string]string{
	"jan": "01", "feb": "02", "mar": "03", "apr": "04", "may": "05", "jun": "06",
	"jul": "07", "aug": "08", "sep": "09", "oct": "10", "nov": "11", "dec": "12",
}

// ExtractText splits text into sentences and runs Extract over them.
func ExtractText(text string) []Match {
	var sents []string
	for _, p := range segment.Paragraphs(text) {
		sents = append(sents, segment.Sentences(p)...)
	}
	return Extract(sents)
}

// Extract runs every rule bank over each sentence in order.
func Extract(sentences []string) []Match {
	var out []Match
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		b := bank{sentence: s}
		b.liquidity()
		b.buybacks()
		b.rating()
		b.legal()
		b.results()
		b.mna()
		b.operations()
		out = append(out, b.out...)
	}
	return out
}

type bank struct {
	sentence string
	out      []Match
}

func (b *bank) emit(name, unit, value, evidence string) {
	b.out = append(b.out, Match{Name: name, Unit: unit, Value: value, Evidence: strings.TrimSpace(evidence)})
}

// emitMoney records the first amount of the sentence under name.
func (b *bank) emitMoney(name string) {
	m := money.FindStringSubmatch(b.sentence)
	if m == nil {
		return
	}
	if val, unit, ok := NormalizeMoney(m[1], m[2]); ok {
		b.emit(name, unit, val, m[0])
	}
}

func (b *bank) emitDue(name string) {
	if m := due.FindStringSubmatch(b.sentence); m != nil {
		b.emit(name, UnitDate, NormalizeMonthYear(m[1]), m[0])
	}
}

func (b *bank) liquidity() {
	s := b.sentence
	if cashBalance.MatchString(s) {
		b.emitMoney("cash_balance")
	}
	if cpProgram.MatchString(s) {
		b.emitMoney("cp_program_limit")
	}
	if rcf.MatchString(s) {
		b.emitMoney("undrawn_rcf")
		b.emitDue("rcf_maturity")
	}
	if revolver.MatchString(s) {
		b.emitMoney("revolver_limit")
		b.emitDue("revolver_maturity")
	}
	for _, m := range maturityPair.FindAllStringSubmatch(s, -1) {
		val, unit, ok := NormalizeMoney(m[1], m[2])
		if !ok {
			continue
		}
		when := NormalizeMonthYear(m[3])
		b.emit("maturity_due_"+strings.ReplaceAll(when, "-", "_"), unit, val, m[0])
	}
}

func (b *bank) buybacks() {
	if m := buybackStart.FindStringSubmatch(b.sentence); m != nil {
		b.emit("buyback_program_start_year", UnitYear, m[1], m[0])
	}
	if m := buybackNone.FindStringSubmatch(b.sentence); m != nil {
		switch {
		case m[3] != "":
			b.emit("buyback_status_"+m[3], UnitEnum, "none", m[0])
		case m[1] != "" && m[2] != "":
			b.emit(fmt.Sprintf("buyback_status_%s_%s", m[2], strings.ToUpper(m[1])), UnitEnum, "none", m[0])
		}
	}
}

func (b *bank) rating() {
	if m := ratingAction.FindStringSubmatch(b.sentence); m != nil {
		b.emit("rating_action", UnitEnum, strings.ToLower(m[1]), m[0])
	}
	if m := outlook.FindStringSubmatch(b.sentence); m != nil {
		v := strings.ToLower(m[1])
		b.emit("rating_outlook", UnitEnum, strings.ToUpper(v[:1])+v[1:], m[0])
	}
}

func (b *bank) legal() {
	s := b.sentence
	if m := fine.FindString(s); m != "" {
		if money.MatchString(s) {
			b.emitMoney("fine_amount")
		} else {
			b.emit("fine_event", UnitEnum, "mentioned", m)
		}
	}
	if m := lawsuit.FindString(s); m != "" {
		b.emit("legal_event", UnitEnum, "lawsuit/settlement", m)
	}
	if m := licence.FindStringSubmatch(s); m != nil {
		b.emit("license_status", UnitEnum, strings.ToLower(m[2]), m[0])
	}
}

func (b *bank) results() {
	s := b.sentence
	if m := guidance.FindStringSubmatch(s); m != nil {
		b.emit("guidance_action", UnitEnum, strings.ToLower(m[1]), m[0])
	}
	if ebitda.MatchString(s) {
		b.emitMoney("ebitda_value")
	}
	if m := revenueTo.FindStringSubmatch(s); m != nil {
		b.emit("revenue_direction", UnitEnum, strings.ToLower(m[1]), m[0])
	}
}

func (b *bank) mna() {
	s := b.sentence
	if m := acquisition.FindString(s); m != "" {
		b.emit("mna_event", UnitEnum, "acquisition", m)
		if c := consideration.FindStringSubmatch(s); c != nil {
			if val, unit, ok := NormalizeMoney(c[1], c[2]); ok {
				b.emit("mna_consideration", unit, val, c[0])
			}
		}
	}
	if m := divestiture.FindString(s); m != "" {
		b.emit("mna_event", UnitEnum, "divestiture", m)
	}
}

func (b *bank) operations() {
	s := b.sentence
	if facility.MatchString(s) {
		if m := opsVerb.FindStringSubmatch(s); m != nil {
			b.emit("operations_event", UnitEnum, strings.ToLower(m[1]), s)
		}
	}
	if m := capacity.FindStringSubmatch(s); m != nil {
		b.emit("capacity_change", strings.ToLower(m[2]), m[1], m[0])
	}
}

// NormalizeMoney parses an amount with an optional scale word. Millions map
// to USD_mn; billions and amounts without a scale map to USD_bn.
func NormalizeMoney(amount, scale string) (value, unit string, ok bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(amount, ",", ""), 64)
	if err != nil {
		return "", "", false
	}
	unit = UnitBillion
	switch strings.ToLower(scale) {
	case "m", "mn", "million":
		unit = UnitMillion
	}
	return trimFloat(v), unit, true
}

func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// NormalizeMonthYear turns month and year phrases into YYYY-MM. A bare year
// becomes YYYY-01; anything else is returned trimmed.
func NormalizeMonthYear(raw string) string {
	t := strings.ReplaceAll(strings.TrimSpace(raw), ".", "")
	if isoMonth.MatchString(t) {
		return t
	}
	if m := monthYear.FindStringSubmatch(t); m != nil {
		if len(m[1]) >= 3 {
			if mon, ok := months[strings.ToLower(m[1][:3])]; ok {
				return m[2] + "-" + mon
			}
		}
	}
	if m := yearOnly.FindStringSubmatch(t); m != nil {
		return m[1] + "-01"
	}
	return t
}
