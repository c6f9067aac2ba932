package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUint64orHex(t *testing.T) {
	tests := []struct {
		name    string
		input   *string
		want    uint64
		wantErr bool
	}{
		{name: "nil input", input: nil, want: 0},
		{name: "decimal", input: strPtr("12345"), want: 12345},
		{name: "hex", input: strPtr("0x1a2b"), want: 0x1a2b},
		{name: "upper-case hex prefix", input: strPtr("0XFF"), want: 0xff},
		{name: "surrounding spaces", input: strPtr(" 151 "), want: 151},
		{name: "invalid decimal", input: strPtr("12abc"), wantErr: true},
		{name: "invalid hex", input: strPtr("0xGHIJK"), wantErr: true},
		{name: "empty", input: strPtr(""), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUint64orHex(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseBlockNumber(t *testing.T) {
	n, err := ParseBlockNumber("0x64")
	require.NoError(t, err)
	require.Equal(t, uint64(100), n)

	_, err = ParseBlockNumber("-1")
	require.Error(t, err)
}

func TestNormalizeHex(t *testing.T) {
	require.Equal(t, "", NormalizeHex("  "))
	require.Equal(t, "0xabcdef", NormalizeHex("0xABCDEF"))
	require.Equal(t, "0xabcdef", NormalizeHex("ABCDEF"))
	require.Equal(t, "0x00ff", NormalizeHex(" 0x00FF "))
}

func TestBytesToMB(t *testing.T) {
	require.Equal(t, uint64(3), BytesToMB(3*1024*1024+10))
	require.Equal(t, uint64(0), BytesToMB(1024))
}

func strPtr(s string) *string {
	return &s
}
