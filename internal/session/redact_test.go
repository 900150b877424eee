// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPII_Email(t *testing.T) {
	assert.Equal(t, "reach me at [REDACTED] tomorrow", maskPII("reach me at jane.doe@example.com tomorrow"))
}

func TestMaskPII_PhoneNumber(t *testing.T) {
	assert.Equal(t, "call me at [REDACTED]", maskPII("call me at 415-555-0134"))
}

func TestMaskPII_CardNumber(t *testing.T) {
	assert.Equal(t, "card is [REDACTED]", maskPII("card is 4111 1111 1111 1111"))
}

func TestMaskPII_LeavesOrdinaryTextAlone(t *testing.T) {
	in := "the customer wants a refund on order 42"
	assert.Equal(t, in, maskPII(in))
}

func TestStripFillers_DropsKnownFillersCaseInsensitively(t *testing.T) {
	words := []string{"so", "Um,", "the", "issue", "is", "uh", "billing"}
	assert.Equal(t, []string{"so", "the", "issue", "is", "billing"}, stripFillers(words))
}

func TestStripFillers_NoFillersLeavesWordsUnchanged(t *testing.T) {
	words := []string{"the", "issue", "is", "billing"}
	assert.Equal(t, words, stripFillers(words))
}
