package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/types"
)

func TestSwaps_RequestAndAccept(t *testing.T) {
	api := newTestAPI(t)
	owner := api.addUser("c", "c@example.com", 0, types.RoleUser)
	requester := api.addUser("b", "b@example.com", 0, types.RoleUser)
	rival := api.addUser("d", "d@example.com", 0, types.RoleUser)
	outsider := api.addUser("e", "e@example.com", 0, types.RoleUser)
	api.addItem("target", "c", 40)
	api.addItem("offer", "b", 30)

	rec := api.do(http.MethodPost, "/items/target/swap-requests", requester, SwapRequestBody{RequesterItemID: "offer", Message: "Trade?"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decodeBody[types.SwapRequest](t, rec)
	assert.Equal(t, types.SwapPending, req.Status)
	assert.Equal(t, "c", req.UploaderID)

	rec = api.do(http.MethodPost, "/items/target/swap-requests", requester, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_request", decodeBody[ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodPost, "/items/target/swap-requests", rival, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rivalReq := decodeBody[types.SwapRequest](t, rec)

	rec = api.do(http.MethodPost, "/items/target/swap-requests", owner, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(http.MethodGet, "/swap-requests/"+req.ID, outsider, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/swap-requests/"+req.ID+"/accept", requester, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/swap-requests/"+req.ID+"/accept", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decodeBody[services.AcceptResult](t, rec)
	assert.Equal(t, types.SwapCompleted, accepted.Request.Status)
	assert.Len(t, accepted.Items, 2)
	assert.Equal(t, types.ItemSwapped, api.item("target").Status)
	assert.Equal(t, types.ItemSwapped, api.item("offer").Status)

	rec = api.do(http.MethodGet, "/swap-requests/"+rivalReq.ID, rival, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.SwapDeclined, decodeBody[types.SwapRequest](t, rec).Status)

	rec = api.do(http.MethodPost, "/swap-requests/"+req.ID+"/accept", owner, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "request_not_pending", decodeBody[ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodPost, "/items/target/swap-requests", outsider, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "item_unavailable", decodeBody[ErrorResponse](t, rec).Code)
}

func TestSwaps_DeclineAndCancel(t *testing.T) {
	api := newTestAPI(t)
	owner := api.addUser("c", "c@example.com", 0, types.RoleUser)
	requester := api.addUser("b", "b@example.com", 0, types.RoleUser)
	api.addItem("i1", "c", 40)

	rec := api.do(http.MethodPost, "/items/i1/swap-requests", requester, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody[types.SwapRequest](t, rec)

	rec = api.do(http.MethodPost, "/swap-requests/"+first.ID+"/cancel", owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/swap-requests/"+first.ID+"/cancel", requester, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.SwapDeclined, decodeBody[types.SwapRequest](t, rec).Status)

	rec = api.do(http.MethodPost, "/items/i1/swap-requests", requester, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decodeBody[types.SwapRequest](t, rec)

	rec = api.do(http.MethodPost, "/swap-requests/"+second.ID+"/decline", requester, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/swap-requests/"+second.ID+"/decline", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodPost, "/swap-requests/"+second.ID+"/decline", owner, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/swap-requests/missing/decline", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, types.ItemAvailable, api.item("i1").Status)
}

func TestSwaps_InvalidOffer(t *testing.T) {
	api := newTestAPI(t)
	requester := api.addUser("b", "b@example.com", 0, types.RoleUser)
	api.addUser("c", "c@example.com", 0, types.RoleUser)
	api.addItem("i1", "c", 40)
	api.addItem("i2", "c", 40)

	rec := api.do(http.MethodPost, "/items/i1/swap-requests", requester, SwapRequestBody{RequesterItemID: "i2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_offer", decodeBody[ErrorResponse](t, rec).Code)
}
