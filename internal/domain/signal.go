package domain

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other trading direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signal is the raw output of a strategy collaborator. The core treats it
// as untrusted input and validates ranges before building an order.
type Signal struct {
	Strategy       string  `json:"strategy"`
	Symbol         string  `json:"symbol"`
	Direction      Side    `json:"direction"`
	Strength       float64 `json:"strength"` // 0..1
	SuggestedEntry float64 `json:"suggested_entry"`
	ATR            float64 `json:"atr"`
}

func (s *Signal) Validate() error {
	if s == nil {
		return &ValidationError{Field: "signal", Msg: "nil signal"}
	}
	if s.Symbol == "" {
		return &ValidationError{Field: "symbol", Msg: "empty symbol"}
	}
	if s.Direction != SideBuy && s.Direction != SideSell {
		return &ValidationError{Field: "direction", Msg: "must be BUY or SELL, got " + string(s.Direction)}
	}
	if s.Strength < 0 || s.Strength > 1 || s.Strength != s.Strength {
		return &ValidationError{Field: "strength", Msg: "must be within [0,1]"}
	}
	if s.SuggestedEntry <= 0 {
		return &ValidationError{Field: "suggested_entry", Msg: "must be positive"}
	}
	if s.ATR <= 0 {
		return &ValidationError{Field: "atr", Msg: "must be positive"}
	}
	return nil
}
