package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type RuleKind string

const (
	KindMinItems     RuleKind = "min_items"
	KindMinCartValue RuleKind = "min_cart_value"
	KindCategory     RuleKind = "category"
	KindCollection   RuleKind = "collection"
	KindProduct      RuleKind = "product"
)

type Operator string

const (
	OpGte Operator = ">="
	OpGt  Operator = ">"
	OpEq  Operator = "="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// RuleValue is the closed set of rule payloads. Each variant carries its own typed value.
type RuleValue interface {
	ruleKind() RuleKind
}

type MinItemsValue struct {
	Count int `json:"count"`
}

type MinCartValue struct {
	Amount decimal.Decimal `json:"amount"`
}

type CategoryValue struct {
	CategoryID string `json:"category_id"`
}

type CollectionValue struct {
	CollectionID string `json:"collection_id"`
}

type ProductValue struct {
	ProductID string `json:"product_id"`
}

// MalformedValue stands in for a rule whose kind is unknown or whose payload could not be decoded.
// It never matches.
type MalformedValue struct {
	Kind   RuleKind
	Reason string
	Raw    json.RawMessage
}

func (MinItemsValue) ruleKind() RuleKind   { return KindMinItems }
func (MinCartValue) ruleKind() RuleKind    { return KindMinCartValue }
func (CategoryValue) ruleKind() RuleKind   { return KindCategory }
func (CollectionValue) ruleKind() RuleKind { return KindCollection }
func (ProductValue) ruleKind() RuleKind    { return KindProduct }
func (m MalformedValue) ruleKind() RuleKind {
	return m.Kind
}

// Rule is one eligibility predicate. Operator only matters for the numeric kinds.
type Rule struct {
	Operator Operator
	Value    RuleValue
}

func (r Rule) Kind() RuleKind {
	if r.Value == nil {
		return ""
	}
	return r.Value.ruleKind()
}

type ruleWire struct {
	Kind     RuleKind        `json:"kind"`
	Operator Operator        `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	w := ruleWire{Kind: r.Kind(), Operator: r.Operator}
	switch v := r.Value.(type) {
	case nil:
		w.Value = json.RawMessage("null")
	case MalformedValue:
		w.Value = v.Raw
		if len(w.Value) == 0 || !json.Valid(w.Value) {
			w.Value = json.RawMessage("null")
		}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s rule value: %w", w.Kind, err)
		}
		w.Value = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON never fails on an unknown kind or bad payload; those decode to MalformedValue.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var w ruleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Operator = Operator(strings.TrimSpace(string(w.Operator)))
	r.Value = DecodeRuleValue(w.Kind, w.Value)
	return nil
}

// DecodeRuleValue turns a stored kind tag and JSON payload into a typed rule value.
func DecodeRuleValue(kind RuleKind, raw []byte) RuleValue {
	kind = RuleKind(strings.ToLower(strings.TrimSpace(string(kind))))
	bad := func(reason string) RuleValue {
		return MalformedValue{Kind: kind, Reason: reason, Raw: append(json.RawMessage(nil), raw...)}
	}

	switch kind {
	case KindMinItems:
		var p struct {
			Count *int `json:"count"`
		}
		if err := json.Unmarshal(raw, &p); err != nil || p.Count == nil {
			return bad("missing or invalid count")
		}
		return MinItemsValue{Count: *p.Count}
	case KindMinCartValue:
		var p struct {
			Amount *decimal.Decimal `json:"amount"`
		}
		if err := json.Unmarshal(raw, &p); err != nil || p.Amount == nil {
			return bad("missing or invalid amount")
		}
		return MinCartValue{Amount: *p.Amount}
	case KindCategory:
		id, ok := decodeID(raw, "category_id")
		if !ok {
			return bad("missing category_id")
		}
		return CategoryValue{CategoryID: id}
	case KindCollection:
		id, ok := decodeID(raw, "collection_id")
		if !ok {
			return bad("missing collection_id")
		}
		return CollectionValue{CollectionID: id}
	case KindProduct:
		id, ok := decodeID(raw, "product_id")
		if !ok {
			return bad("missing product_id")
		}
		return ProductValue{ProductID: id}
	default:
		return bad("unknown rule kind")
	}
}

// decodeID accepts ids stored as JSON strings or numbers.
func decodeID(raw []byte, field string) (string, bool) {
	var p map[string]json.RawMessage
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", false
	}
	v, ok := p[field]
	if !ok || len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", false
	}
	return n.String(), true
}

// Evaluate tests a single rule against the cart. Unknown kinds, unknown operators and
// malformed payloads evaluate to false.
func Evaluate(rule Rule, cart CartData) bool {
	switch v := rule.Value.(type) {
	case MinItemsValue:
		return evalMinItems(rule.Operator, v, cart)
	case MinCartValue:
		return evalMinCartValue(rule.Operator, v, cart)
	case CategoryValue:
		return anyItem(cart, func(it CartItem) bool { return it.CategoryID == v.CategoryID })
	case CollectionValue:
		return anyItem(cart, func(it CartItem) bool { return it.CollectionID == v.CollectionID })
	case ProductValue:
		return anyItem(cart, func(it CartItem) bool { return it.ProductID == v.ProductID })
	default:
		return false
	}
}

func evalMinItems(op Operator, v MinItemsValue, cart CartData) bool {
	return compare(op, decimal.NewFromInt(int64(cart.TotalQuantity())), decimal.NewFromInt(int64(v.Count)))
}

func evalMinCartValue(op Operator, v MinCartValue, cart CartData) bool {
	return compare(op, cart.Subtotal, v.Amount)
}

func anyItem(cart CartData, pred func(CartItem) bool) bool {
	for _, it := range cart.Items {
		if pred(it) {
			return true
		}
	}
	return false
}

func compare(op Operator, left, right decimal.Decimal) bool {
	c := left.Cmp(right)
	switch op {
	case OpGte:
		return c >= 0
	case OpGt:
		return c > 0
	case OpEq:
		return c == 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	default:
		return false
	}
}
