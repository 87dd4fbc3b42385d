package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/chaingraph"
	"offer-chain-api/internal/models"
)

// DateLayout is the calendar-date format of mail dates.
const DateLayout = "2006-01-02"

// ChainPayload is the body of POST /chains, kept raw so that structural
// problems surface as error codes instead of JSON decoding failures.
type ChainPayload struct {
	Title      string          `json:"title"`
	BrandID    json.RawMessage `json:"brandId"`
	Offers     json.RawMessage `json:"offers"`
	FirstOffer json.RawMessage `json:"firstOffer"`
}

// ChainPatchPayload is the "payload" object of PATCH /chains/{id}. Edges is
// accepted as an alias of Offers.
type ChainPatchPayload struct {
	Title      *string         `json:"title"`
	BrandID    json.RawMessage `json:"brandId"`
	Offers     json.RawMessage `json:"offers"`
	Edges      json.RawMessage `json:"edges"`
	FirstOffer json.RawMessage `json:"firstOffer"`
}

// NewChain is a chain creation request that passed validation.
type NewChain struct {
	Title        string
	BrandID      int64
	FirstOfferID int64
	Graph        *chaingraph.Graph
}

// ValidateCreateChain checks a creation payload, stopping at the first failure.
func ValidateCreateChain(p ChainPayload) (*NewChain, error) {
	title := SanitizeString(p.Title)
	if title == "" {
		return nil, apierror.Validation(apierror.CodeMissingRequiredField, "Chain title is required")
	}

	brandID, present, ok := parseID(p.BrandID)
	if !present {
		return nil, apierror.Validation(apierror.CodeMissingRequiredField, "Brand is required")
	}
	if !ok {
		return nil, apierror.Validation(apierror.CodeMissingBrand, "Brand must be a valid id")
	}

	offers, err := rawObject(p.Offers)
	if err != nil || len(offers) == 0 {
		return nil, apierror.Validation(apierror.CodeInvalidOffers, "Offers graph is required and must be a non-empty object")
	}

	firstOfferID, present, ok := parseID(p.FirstOffer)
	if !present {
		return nil, apierror.Validation(apierror.CodeMissingFirstOffer, "First offer ID is required")
	}

	graph, err := buildGraph(offers)
	if err != nil {
		return nil, err
	}

	if !ok || !graph.HasNode(firstOfferID) {
		return nil, apierror.Validation(apierror.CodeInvalidFirstOffer, "First offer must be one of the offers in the graph")
	}

	return &NewChain{
		Title:        title,
		BrandID:      brandID,
		FirstOfferID: firstOfferID,
		Graph:        graph,
	}, nil
}

// ValidateChainPatch applies the creation rules to whichever fields are present.
func ValidateChainPatch(p ChainPatchPayload) (models.ChainPatch, error) {
	var patch models.ChainPatch

	if p.Title != nil {
		title := SanitizeString(*p.Title)
		if title == "" {
			return patch, apierror.Validation(apierror.CodeMissingRequiredField, "Chain title is required")
		}
		patch.Title = &title
	}

	if len(p.BrandID) > 0 {
		brandID, present, ok := parseID(p.BrandID)
		if !present {
			return patch, apierror.Validation(apierror.CodeMissingRequiredField, "Brand is required")
		}
		if !ok {
			return patch, apierror.Validation(apierror.CodeMissingBrand, "Brand must be a valid id")
		}
		patch.BrandID = &brandID
	}

	rawGraph := p.Edges
	if len(rawGraph) == 0 {
		rawGraph = p.Offers
	}
	if len(rawGraph) > 0 {
		offers, err := rawObject(rawGraph)
		if err != nil || len(offers) == 0 {
			return patch, apierror.Validation(apierror.CodeInvalidOffers, "Offers graph must be a non-empty object")
		}
		graph, err := buildGraph(offers)
		if err != nil {
			return patch, err
		}
		patch.Graph = graph
	}

	if len(p.FirstOffer) > 0 {
		firstOfferID, present, ok := parseID(p.FirstOffer)
		if !present {
			return patch, apierror.Validation(apierror.CodeMissingFirstOffer, "First offer ID is required")
		}
		if !ok || (patch.Graph != nil && !patch.Graph.HasNode(firstOfferID)) {
			return patch, apierror.Validation(apierror.CodeInvalidFirstOffer, "First offer must be one of the offers in the graph")
		}
		patch.FirstOfferID = &firstOfferID
	}

	return patch, nil
}

// buildGraph turns {"srcId": [{offerId, daysToAdd}]} into an adjacency list.
// Sources are ordered numerically since JSON object order is not preserved.
func buildGraph(offers map[string]json.RawMessage) (*chaingraph.Graph, error) {
	keys := make([]string, 0, len(offers))
	for k := range offers {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	graph := chaingraph.New()
	for _, key := range keys {
		src, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || src <= 0 {
			return nil, apierror.Validation(apierror.CodeInvalidOfferStructure,
				fmt.Sprintf("Offer id %q is not a valid offer identifier", key))
		}

		connections, err := rawArray(offers[key])
		if err != nil {
			return nil, apierror.Validation(apierror.CodeInvalidOfferStructure,
				fmt.Sprintf("Connections for offer %s must be an array", key))
		}

		graph.AddNode(src)
		for _, raw := range connections {
			edge, ok := parseConnection(raw)
			if !ok {
				return nil, apierror.Validation(apierror.CodeInvalidConnectionStructure,
					"Each connection must have offerId and daysToAdd properties")
			}
			graph.AddEdge(src, edge)
		}
	}

	return graph, nil
}

func parseConnection(raw json.RawMessage) (chaingraph.Edge, bool) {
	conn, err := rawObject(raw)
	if err != nil {
		return chaingraph.Edge{}, false
	}

	target, present, ok := parseID(conn["offerId"])
	if !present || !ok {
		return chaingraph.Edge{}, false
	}

	days, ok := parseDays(conn["daysToAdd"])
	if !ok {
		return chaingraph.Edge{}, false
	}

	return chaingraph.Edge{OfferID: target, DaysToAdd: days}, true
}

func compareKeys(a, b string) int {
	ai, aErr := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	bi, bErr := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if aErr == nil && bErr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// parseID reads a positive integer id given as a JSON number or numeric
// string. present is false for absent, null, empty or zero values.
func parseID(raw json.RawMessage) (id int64, present bool, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, false
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, true, false
	}

	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
		if s == "" {
			return 0, false, false
		}
	case bool:
		if !t {
			return 0, false, false
		}
		return 0, true, false
	default:
		return 0, true, false
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, true, false
	}
	if n == 0 {
		return 0, false, false
	}
	if n < 0 {
		return 0, true, false
	}
	return n, true, true
}

// parseDays reads a non-negative whole number of days.
func parseDays(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}

	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func rawObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("not a JSON object")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func rawArray(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("not a JSON array")
	}
	var a []json.RawMessage
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// SanitizeString strips control characters and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ParseID parses a path or query identifier.
func ParseID(s string) (int64, bool) {
	s = SanitizeString(s)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParseDate accepts a calendar date (2006-01-02) or an RFC3339 timestamp and
// returns midnight UTC of that calendar day.
func ParseDate(s string) (time.Time, error) {
	s = SanitizeString(s)
	if s == "" {
		return time.Time{}, apierror.Validation(apierror.CodeInvalidDate, "date is required")
	}

	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.UTC(), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apierror.Validation(apierror.CodeInvalidDate, "date must be YYYY-MM-DD or RFC3339")
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
