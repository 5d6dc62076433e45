package router

import (
	"testing"

	"roombox-service/errs"

	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	p, err := decodePayload([]interface{}{map[string]interface{}{"channel_id": float64(4), "body": "hi"}})
	require.NoError(t, err)
	require.EqualValues(t, 4, p.channel())
	require.Equal(t, "hi", p.Body)

	p, err = decodePayload([]interface{}{map[string]interface{}{"channelId": float64(9)}})
	require.NoError(t, err)
	require.EqualValues(t, 9, p.channel())

	p, err = decodePayload([]interface{}{float64(12)})
	require.NoError(t, err)
	require.EqualValues(t, 12, p.channel())

	_, err = decodePayload(nil)
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = decodePayload([]interface{}{map[string]interface{}{"body": "no channel"}})
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}
