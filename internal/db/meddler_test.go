package db

import (
	"database/sql"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestAddressMeddler(t *testing.T) {
	m := AddressMeddler{}
	addr := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	v, err := m.PreWrite(addr)
	require.NoError(t, err)
	require.Equal(t, "0x70997970c51812dc3a010c7d01b50e0d17dc79c8", v)

	v, err = m.PreWrite((*common.Address)(nil))
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = m.PreWrite("0x1234")
	require.Error(t, err)

	var out *common.Address
	require.NoError(t, m.PostRead(&out, &sql.NullString{String: "0x70997970c51812dc3a010c7d01b50e0d17dc79c8", Valid: true}))
	require.NotNil(t, out)
	require.Equal(t, addr, *out)

	require.NoError(t, m.PostRead(&out, &sql.NullString{}))
	require.Nil(t, out)

	var direct common.Address
	require.NoError(t, m.PostRead(&direct, &sql.NullString{}))
	require.Equal(t, common.Address{}, direct)
}

func TestHashMeddler(t *testing.T) {
	m := HashMeddler{}
	hash := common.HexToHash("0xabc")

	v, err := m.PreWrite(&hash)
	require.NoError(t, err)
	require.Equal(t, hash.Hex(), v)

	var out *common.Hash
	require.NoError(t, m.PostRead(&out, &sql.NullString{String: hash.Hex(), Valid: true}))
	require.Equal(t, hash, *out)

	var direct common.Hash
	require.Error(t, m.PostRead(&direct, "not a null string"))
}
