package evo

import (
	"math"

	"adversary/internal/payload"
)

// SeedCorpus returns the fixed boundary-value corpus every population starts
// from.
func SeedCorpus() []payload.Value {
	return []payload.Value{
		payload.Int(0),
		payload.Int(1),
		payload.Int(-1),
		payload.Int(math.MaxInt32),
		payload.Int(math.MinInt32),
		payload.Int(1 << 20),
		payload.Int(1_000_000),
		payload.Int(1_000_000_000),
		payload.Float(0),
		payload.Float(1),
		payload.Float(-1),
		payload.Text(""),
		payload.Text(" "),
		payload.Text("test"),
		payload.Text("\x00"),
		payload.Text("admin"),
		payload.Text("' OR '1'='1"),
		payload.Text("; DROP TABLE"),
		payload.Seq(),
		payload.Seq(payload.Int(1)),
		payload.Map(nil),
		payload.Null(),
		payload.Bool(true),
		payload.Bool(false),
	}
}
