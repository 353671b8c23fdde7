package service

import "github.com/shopspring/decimal"

func boolPtr(v bool) *bool { return &v }

func decimalInt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
