package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1 555-000-0001", "15550000001"},
		{"15550000001@c.us", "15550000001"},
		{"0015550000001", "15550000001"},
		{"  (555) 000.0001 ", "5550000001"},
		{"+62 812 3456 789", "628123456789"},
		{"", ""},
		{"@c.us", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), "input %q", tt.in)
	}
}

func TestPhoneVariants(t *testing.T) {
	assert.Equal(t,
		[]string{"15550000001", "+15550000001", "0015550000001"},
		PhoneVariants("15550000001"))
	assert.Nil(t, PhoneVariants(""))
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-passw0rd")
	assert.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret-passw0rd"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
