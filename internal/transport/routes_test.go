package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteTableMLEFlags(t *testing.T) {
	table := NewRouteTable(nil)

	assert.True(t, table.RequiresMLE("/visadirect/fundstransfer/v1/pushfunds"))
	assert.True(t, table.RequiresMLE("/accountpayouts/v1/payout"))
	assert.True(t, table.RequiresMLE("/walletpayouts/v1/payout"))

	assert.False(t, table.RequiresMLE("/visaaliasdirectory/v1/resolve"))
	assert.False(t, table.RequiresMLE("/forexrates/v2/lock"))
}

func TestRouteTableParamSegments(t *testing.T) {
	table := NewRouteTable([]Route{
		{Path: "/transactions/v1/{transactionID}/status", RequiresMLE: true},
	})

	assert.True(t, table.RequiresMLE("/transactions/v1/txn-123/status"))
	assert.False(t, table.RequiresMLE("/transactions/v1/txn-123"))
	assert.False(t, table.RequiresMLE("/transactions/v1/txn-123/status/extra"))
}

func TestRouteTableUnknownPathIsClear(t *testing.T) {
	table := NewRouteTable(nil)
	assert.False(t, table.RequiresMLE("/nonexistent/v9/thing"))
}
