package query

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

type CellKind int

const (
	KindNull CellKind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
)

func (k CellKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Cell is one value of a result row. Only the field matching Kind is set.
type Cell struct {
	Kind  CellKind
	Int   int64
	Float float64
	Str   string
	Bool  bool
	Time  time.Time
}

func Null() Cell                { return Cell{Kind: KindNull} }
func IntCell(v int64) Cell      { return Cell{Kind: KindInt, Int: v} }
func FloatCell(v float64) Cell  { return Cell{Kind: KindFloat, Float: v} }
func StringCell(v string) Cell  { return Cell{Kind: KindString, Str: v} }
func BoolCell(v bool) Cell      { return Cell{Kind: KindBool, Bool: v} }
func TimeCell(v time.Time) Cell { return Cell{Kind: KindTime, Time: v} }

func (c Cell) IsNull() bool {
	return c.Kind == KindNull
}

func (c Cell) IsNumeric() bool {
	return c.Kind == KindInt || c.Kind == KindFloat
}

// Number returns the cell as float64 for numeric kinds.
func (c Cell) Number() (float64, bool) {
	switch c.Kind {
	case KindInt:
		return float64(c.Int), true
	case KindFloat:
		return c.Float, true
	default:
		return 0, false
	}
}

func (c Cell) Value() any {
	switch c.Kind {
	case KindInt:
		return c.Int
	case KindFloat:
		return c.Float
	case KindString:
		return c.Str
	case KindBool:
		return c.Bool
	case KindTime:
		return c.Time
	default:
		return nil
	}
}

// String renders the cell for text output using the shortest representation.
func (c Cell) String() string {
	switch c.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(c.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(c.Float, 'f', -1, 64)
	case KindString:
		return c.Str
	case KindBool:
		return strconv.FormatBool(c.Bool)
	case KindTime:
		return c.Time.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func (c Cell) MarshalJSON() ([]byte, error) {
	if c.Kind == KindFloat && (math.IsNaN(c.Float) || math.IsInf(c.Float, 0)) {
		return json.Marshal(strconv.FormatFloat(c.Float, 'f', -1, 64))
	}
	return json.Marshal(c.Value())
}

type floater interface {
	Float64() float64
}

// CellFromValue converts a value scanned by database/sql into a Cell.
func CellFromValue(value any) Cell {
	switch typed := value.(type) {
	case nil:
		return Null()
	case int:
		return IntCell(int64(typed))
	case int8:
		return IntCell(int64(typed))
	case int16:
		return IntCell(int64(typed))
	case int32:
		return IntCell(int64(typed))
	case int64:
		return IntCell(typed)
	case uint:
		return unsignedCell(uint64(typed))
	case uint8:
		return IntCell(int64(typed))
	case uint16:
		return IntCell(int64(typed))
	case uint32:
		return IntCell(int64(typed))
	case uint64:
		return unsignedCell(typed)
	case float32:
		return FloatCell(float64(typed))
	case float64:
		return FloatCell(typed)
	case *big.Int:
		if typed == nil {
			return Null()
		}
		if typed.IsInt64() {
			return IntCell(typed.Int64())
		}
		f, _ := new(big.Float).SetInt(typed).Float64()
		return FloatCell(f)
	case bool:
		return BoolCell(typed)
	case string:
		return StringCell(typed)
	case []byte:
		return StringCell(string(typed))
	case time.Time:
		return TimeCell(typed)
	case floater:
		return FloatCell(typed.Float64())
	case fmt.Stringer:
		return StringCell(typed.String())
	default:
		return StringCell(fmt.Sprint(typed))
	}
}

func unsignedCell(v uint64) Cell {
	if v > math.MaxInt64 {
		return FloatCell(float64(v))
	}
	return IntCell(int64(v))
}
