package csr

import (
	"context"
	"strconv"
	"strings"

	"github.com/vkngwrapper/aubstream/trace"
	"golang.org/x/exp/slog"
)

// ParseMMIOList reads a semicolon separated list of register;value pairs. Numbers may be decimal or
// 0x-prefixed hex. A token that is not a number ends the list, and a trailing unpaired token is ignored.
func ParseMMIOList(list string, logger *slog.Logger) []trace.MMIOPair {
	if list == "" {
		return nil
	}

	var pairs []trace.MMIOPair
	tokens := strings.Split(list, ";")
	for i := 0; i+1 < len(tokens); i += 2 {
		register, err := parseMMIOToken(tokens[i])
		if err != nil {
			logger.LogAttrs(context.Background(), slog.LevelWarn, "MMIO list holds a token that is not a register",
				slog.String("Token", tokens[i]), slog.Int("Parsed", len(pairs)))
			return pairs
		}

		value, err := parseMMIOToken(tokens[i+1])
		if err != nil {
			logger.LogAttrs(context.Background(), slog.LevelWarn, "MMIO list holds a token that is not a value",
				slog.String("Token", tokens[i+1]), slog.Int("Parsed", len(pairs)))
			return pairs
		}

		pairs = append(pairs, trace.MMIOPair{Register: uint32(register), Value: uint32(value)})
	}

	return pairs
}

// parseMMIOToken reads 0x-prefixed tokens as hex and every other token as decimal, leading zeros included
func parseMMIOToken(token string) (uint64, error) {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "0x") || strings.HasPrefix(token, "0X") {
		return strconv.ParseUint(token[2:], 16, 32)
	}
	return strconv.ParseUint(token, 10, 32)
}

// InitAdditionalMMIO writes the register pairs of the AdditionalMMIO override to the trace
func (r *CommandStreamReceiver) InitAdditionalMMIO() {
	r.logger.Debug("CommandStreamReceiver::InitAdditionalMMIO")

	for _, pair := range ParseMMIOList(r.overrides.AdditionalMMIO, r.logger) {
		r.stream.WriteMMIO(pair.Register, pair.Value)
	}
}
