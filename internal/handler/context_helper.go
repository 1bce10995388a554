package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lostfound-api/internal/middleware"
	"github.com/noah-isme/lostfound-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.CurrentUser(c)
}

// confirmedQuery reads the confirm query flag used by irreversible operations.
func confirmedQuery(c *gin.Context) bool {
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))
	return confirmed
}
