package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

// ErrSchema marks oracle output that does not satisfy the response schema.
var ErrSchema = errors.New("extraction output violates schema")

// LocatorFields point back at the evidence of an item. A usable item carries
// start_char and end_char, or anchor and offset, or both.
type LocatorFields struct {
	StartChar *int    `json:"start_char" jsonschema:"anyof_type=integer;null" jsonschema_description:"Character offset where the evidence starts in the passage, or null." validate:"omitempty,gte=0"`
	EndChar   *int    `json:"end_char" jsonschema:"anyof_type=integer;null" jsonschema_description:"Character offset where the evidence ends in the passage, or null." validate:"omitempty,gte=0"`
	Anchor    *string `json:"anchor" jsonschema:"anyof_type=string;null" jsonschema_description:"The first five words of the sentence holding the evidence, copied exactly, or null."`
	Offset    *int    `json:"offset" jsonschema:"anyof_type=integer;null" jsonschema_description:"Length in characters of the evidence counted from the start of the anchored sentence, or null." validate:"omitempty,gte=0"`
}

// Locators returns the locator shapes present on the item, index form first.
func (l LocatorFields) Locators() []common.Locator {
	var out []common.Locator
	if l.StartChar != nil && l.EndChar != nil {
		out = append(out, common.IndexRange{Start: *l.StartChar, End: *l.EndChar})
	}
	if l.Anchor != nil && strings.TrimSpace(*l.Anchor) != "" && l.Offset != nil {
		out = append(out, common.AnchorOffset{Anchor: *l.Anchor, Offset: *l.Offset})
	}
	return out
}

type EventItem struct {
	Name      string           `json:"name" jsonschema:"maxLength=120" jsonschema_description:"Short action phrase in the past tense naming what happened, at most 120 characters." validate:"required,max=120"`
	Contents  string           `json:"contents" jsonschema_description:"Shortest verbatim quote from the passage that shows the action." validate:"required"`
	EventType common.EventType `json:"event_type" validate:"required,eventtype"`
	Period    *string          `json:"period" jsonschema:"anyof_type=string;null" jsonschema_description:"Time expression copied from the passage, or null when none is given."`
	LocatorFields
}

type FactorItem struct {
	Name     string  `json:"name" jsonschema_description:"Concise noun phrase naming a reusable credit consideration stated in the passage." validate:"required"`
	Contents string  `json:"contents" jsonschema_description:"Verbatim quote from the passage expressing the factor." validate:"required"`
	Period   *string `json:"period" jsonschema:"anyof_type=string;null" jsonschema_description:"Time expression copied from the passage, or null."`
	LocatorFields
}

type VariableItem struct {
	Name     string  `json:"name" jsonschema_description:"Name of the measured quantity, e.g. cash and cash equivalents." validate:"required"`
	Contents string  `json:"contents" jsonschema_description:"Verbatim quote from the passage containing the value." validate:"required"`
	Value    string  `json:"value" jsonschema_description:"The number, ratio or date exactly as written, e.g. $66.2 billion or 3.1x." validate:"required"`
	Unit     *string `json:"unit" jsonschema:"anyof_type=string;null" jsonschema_description:"Unit token as written, e.g. % or bn, or null when none is shown."`
	Period   *string `json:"period" jsonschema:"anyof_type=string;null" jsonschema_description:"Time expression copied from the passage, e.g. as of Mar 31 2025, or null."`
	LocatorFields
}

// Response is the JSON document the oracle must return for one passage.
type Response struct {
	Events    []EventItem    `json:"events" jsonschema_description:"Actions stated in the passage that occurred, started, completed or were firmly announced and may matter for credit or the share price." validate:"required,dive"`
	Factors   []FactorItem   `json:"factors" jsonschema_description:"Specific credit considerations expressed in the passage, including explicit plans and expectations." validate:"required,dive"`
	Variables []VariableItem `json:"variables" jsonschema_description:"Every measurable quantity mentioned in the passage, one item per value mention." validate:"required,dive"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("eventtype", func(fl validator.FieldLevel) bool {
		return common.EventType(fl.Field().String()).Valid()
	})
	return v
}

// validateResponse checks field constraints and that every item can be
// located. All failures wrap ErrSchema.
func validateResponse(v *validator.Validate, r *Response) error {
	if err := v.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	check := func(kind string, i int, l LocatorFields) error {
		if len(l.Locators()) == 0 {
			return fmt.Errorf("%w: %s[%d] has no start_char/end_char or anchor/offset locator", ErrSchema, kind, i)
		}
		return nil
	}
	for i, it := range r.Events {
		if err := check("events", i, it.LocatorFields); err != nil {
			return err
		}
	}
	for i, it := range r.Factors {
		if err := check("factors", i, it.LocatorFields); err != nil {
			return err
		}
	}
	for i, it := range r.Variables {
		if err := check("variables", i, it.LocatorFields); err != nil {
			return err
		}
	}
	return nil
}
