package response

import (
	"errors"
	"net/http"

	"fanbid/internal/errs"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeBidTooLow           = 1001
	CodeInsufficientFunds   = 1002
	CodeAuctionClosed       = 1003
	CodeInvalidAutoBid      = 1004
	CodeConcurrencyConflict = 1005
	CodeBuyNowUnavailable   = 1006
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusOK, Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// FromError 把引擎错误映射为业务码，出价过低时附带最低出价
func FromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		ParamError(c, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		Unauthorized(c, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		Error(c, CodeNotFound, err.Error())
	case errors.Is(err, errs.ErrBidTooLow):
		minimum, _ := errs.MinimumBid(err)
		c.JSON(http.StatusOK, Response{
			Code:    CodeBidTooLow,
			Message: err.Error(),
			Data:    gin.H{"minimum_bid": minimum},
		})
	case errors.Is(err, errs.ErrInsufficientFunds):
		BusinessError(c, CodeInsufficientFunds, err.Error())
	case errors.Is(err, errs.ErrAuctionClosed):
		BusinessError(c, CodeAuctionClosed, err.Error())
	case errors.Is(err, errs.ErrInvalidAutoBid):
		BusinessError(c, CodeInvalidAutoBid, err.Error())
	case errors.Is(err, errs.ErrConcurrencyConflict):
		BusinessError(c, CodeConcurrencyConflict, err.Error())
	case errors.Is(err, errs.ErrBuyNowUnavailable):
		BusinessError(c, CodeBuyNowUnavailable, err.Error())
	default:
		ServerError(c, err.Error())
	}
}
