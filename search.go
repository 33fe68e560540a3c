package storagecore

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Op is a condition operator.
type Op int

// Condition operators. In requires an Array value; Contains and StartsWith
// require String on both sides.
const (
	OpEq Op = iota
	OpGte
	OpLte
	OpGt
	OpLt
	OpIn
	OpContains
	OpStartsWith
)

// ValueKind discriminates the variants of a condition [Value].
type ValueKind int

// Value variants.
const (
	ValueString ValueKind = iota
	ValueDecimal
	ValueInt
	ValueBool
	ValueArray
)

// Value is a condition operand. Construct with [String], [Decimal], [Int],
// [Bool], or [Array].
type Value struct {
	Kind ValueKind

	Str  string
	Dec  decimal.Decimal
	Int  int64
	Bool bool
	Arr  []string
}

// String returns a string condition value.
func String(s string) Value { return Value{Kind: ValueString, Str: s} }

// Decimal returns a decimal condition value.
func Decimal(d decimal.Decimal) Value { return Value{Kind: ValueDecimal, Dec: d} }

// Int returns an integer condition value.
func Int(i int64) Value { return Value{Kind: ValueInt, Int: i} }

// Bool returns a boolean condition value.
func Bool(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// Array returns a string-array condition value, for [OpIn].
func Array(elems ...string) Value { return Value{Kind: ValueArray, Arr: elems} }

// Condition is one conjunctive filter clause.
type Condition struct {
	Field    string
	Operator Op
	Value    Value
}

// SortField orders results by one field.
type SortField struct {
	Field     string
	Ascending bool
}

// SearchCriteria is a declarative filter/sort/limit descriptor consumed by
// [Repository.Find] and [Repository.SemanticSearch]. Conditions combine
// conjunctively. The zero value matches everything.
type SearchCriteria struct {
	Conditions []Condition
	SortFields []SortField
	Limit      *int
}

// NewSearchCriteria returns an empty criteria.
func NewSearchCriteria() *SearchCriteria {
	return &SearchCriteria{}
}

// AddCondition appends a filter clause.
func (c *SearchCriteria) AddCondition(field string, op Op, value Value) *SearchCriteria {
	c.Conditions = append(c.Conditions, Condition{Field: field, Operator: op, Value: value})

	return c
}

// AddSort appends a sort field. The first sort field is primary, later
// ones break ties.
func (c *SearchCriteria) AddSort(field string, ascending bool) *SearchCriteria {
	c.SortFields = append(c.SortFields, SortField{Field: field, Ascending: ascending})

	return c
}

// AddLimit caps the result size. Idempotent: once set, later calls are
// ignored.
func (c *SearchCriteria) AddLimit(limit int) *SearchCriteria {
	if c.Limit == nil {
		c.Limit = &limit
	}

	return c
}

// Matches reports whether s passes every condition. A condition whose
// value type is incompatible with the field's actual type evaluates to
// false, not an error.
func (c *SearchCriteria) Matches(s Searchable) bool {
	for _, cond := range c.Conditions {
		if !evalCondition(s, cond) {
			return false
		}
	}

	return true
}

// evalCondition evaluates one clause against the model's field value.
func evalCondition(s Searchable, cond Condition) bool {
	field, ok := s.FieldValue(cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpEq, OpGte, OpLte, OpGt, OpLt:
		ord, comparable := compareFieldToValue(field, cond.Value)
		if !comparable {
			return false
		}

		switch cond.Operator {
		case OpEq:
			return ord == 0
		case OpGte:
			return ord >= 0
		case OpLte:
			return ord <= 0
		case OpGt:
			return ord > 0
		default:
			return ord < 0
		}
	case OpIn:
		if cond.Value.Kind != ValueArray || field.Kind != SortString {
			return false
		}

		for _, elem := range cond.Value.Arr {
			if field.Str == elem {
				return true
			}
		}

		return false
	case OpContains:
		if cond.Value.Kind != ValueString || field.Kind != SortString {
			return false
		}

		return strings.Contains(field.Str, cond.Value.Str)
	case OpStartsWith:
		if cond.Value.Kind != ValueString || field.Kind != SortString {
			return false
		}

		return strings.HasPrefix(field.Str, cond.Value.Str)
	default:
		return false
	}
}

// compareFieldToValue orders a field value against a condition value.
// comparable is false when the types do not line up; Bool condition values
// never line up with the three sortable field kinds.
func compareFieldToValue(field SortValue, value Value) (ord int, comparable bool) {
	switch value.Kind {
	case ValueString:
		if field.Kind != SortString {
			return 0, false
		}

		return strings.Compare(field.Str, value.Str), true
	case ValueDecimal:
		if field.Kind != SortDecimal {
			return 0, false
		}

		return field.Dec.Cmp(value.Dec), true
	case ValueInt:
		if field.Kind != SortInt {
			return 0, false
		}

		switch {
		case field.Int < value.Int:
			return -1, true
		case field.Int > value.Int:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

// SortKind discriminates the variants of a [SortValue].
type SortKind int

// SortValue variants.
const (
	SortString SortKind = iota
	SortDecimal
	SortInt
)

// SortValue is a field value usable for ordering. Construct with
// [SortStr], [SortDec], or [SortI64].
type SortValue struct {
	Kind SortKind

	Str string
	Dec decimal.Decimal
	Int int64
}

// SortStr returns a string sort value.
func SortStr(s string) SortValue { return SortValue{Kind: SortString, Str: s} }

// SortDec returns a decimal sort value.
func SortDec(d decimal.Decimal) SortValue { return SortValue{Kind: SortDecimal, Dec: d} }

// SortI64 returns an integer sort value.
func SortI64(i int64) SortValue { return SortValue{Kind: SortInt, Int: i} }

// Compare orders v against other within the same variant. Comparing across
// variants is a programming error and deterministically returns 0.
func (v SortValue) Compare(other SortValue) int {
	if v.Kind != other.Kind {
		return 0
	}

	switch v.Kind {
	case SortString:
		return strings.Compare(v.Str, other.Str)
	case SortDecimal:
		return v.Dec.Cmp(other.Dec)
	default:
		switch {
		case v.Int < other.Int:
			return -1
		case v.Int > other.Int:
			return 1
		default:
			return 0
		}
	}
}

// applySort orders items by the criteria's sort fields, first field
// primary and subsequent fields as tie-breakers. Items missing a field
// keep their relative order for that field.
func applySort[M any](items []M, sortFields []SortField) {
	if len(sortFields) == 0 {
		return
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, aok := any(items[i]).(Searchable)
		b, bok := any(items[j]).(Searchable)

		if !aok || !bok {
			return false
		}

		for _, sf := range sortFields {
			va, ok1 := a.FieldValue(sf.Field)
			vb, ok2 := b.FieldValue(sf.Field)

			if !ok1 || !ok2 {
				continue
			}

			ord := va.Compare(vb)
			if ord == 0 {
				continue
			}

			if sf.Ascending {
				return ord < 0
			}

			return ord > 0
		}

		return false
	})
}
