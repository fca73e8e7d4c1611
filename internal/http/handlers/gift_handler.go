package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GiftStatus godoc
// @ID          giftStatus
// @Summary     Spiritual gift status
// @Description Whether the caller can claim now, what is left for today (UTC) and when the next claim opens.
// @Tags        Gift
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.GiftStatus
// @Router      /spiritual-gift [get]
func (h *Handlers) GiftStatus(c *gin.Context) {
	st, err := h.svc.Gifts.Status(c.Request.Context(), actor(c).UserID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// ClaimGift godoc
// @ID          claimGift
// @Summary     Claim the spiritual gift
// @Tags        Gift
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.GiftClaimResult
// @Failure     403  {object}  handlers.ErrorResponse  "Gift disabled"
// @Failure     429  {object}  handlers.ErrorResponse  "Cooldown or daily limit"
// @Header      429  {string}  Retry-After  "Seconds until the next claim"
// @Router      /spiritual-gift/claim [post]
func (h *Handlers) ClaimGift(c *gin.Context) {
	res, err := h.svc.Gifts.Claim(c.Request.Context(), actor(c).UserID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
