package deliveryclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"webhookhub/internal/types"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{200, Success},
		{201, Success},
		{299, Success},
		{429, RetryableFailure},
		{500, RetryableFailure},
		{503, RetryableFailure},
		{599, RetryableFailure},
		{400, NonRetryableFailure},
		{404, NonRetryableFailure},
		{498, NonRetryableFailure},
		{301, NonRetryableFailure},
	}
	for _, c := range cases {
		got := classify(c.status, nil)
		assert.Equal(t, c.want, got.Kind, "status %d", c.status)
		assert.Equal(t, c.status, got.Status)
	}
}

func TestClassifyIncludesTruncatedBody(t *testing.T) {
	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'x'
	}
	out := classify(500, big)
	assert.LessOrEqual(t, len(out.Msg), 600)
}

func TestTargetFromDestinationCarriesTuningColumns(t *testing.T) {
	d := types.Destination{
		TargetURL:       "https://example.test/hook",
		ConnectTimeoutS: 3,
		TimeoutS:        15,
		VerifyTLS:       false,
	}
	target := TargetFromDestination(d)
	assert.Equal(t, d.TargetURL, target.URL)
	assert.Equal(t, d.ConnectTimeoutS, target.ConnectTimeoutS)
	assert.Equal(t, d.TimeoutS, target.TimeoutS)
	assert.Equal(t, d.VerifyTLS, target.VerifyTLS)
}
