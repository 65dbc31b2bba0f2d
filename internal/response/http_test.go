package response

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewList_EncodesEmptyAsArray(t *testing.T) {
	b, err := json.Marshal(NewList[int]("nothing", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"message":"nothing","count":0,"data":[]}`, string(b))

	list := NewList("two", []string{"a", "b"})
	assert.Equal(t, 2, list.Count)
}
