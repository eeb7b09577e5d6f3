package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestRegisterDocs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerDocs(router, "9090")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.Bytes()
	assert.True(t, gjson.ValidBytes(body))
	assert.Equal(t, "localhost:9090", gjson.GetBytes(body, "host").String())
	assert.True(t, gjson.GetBytes(body, "paths./api/project-chat.post").Exists())
	assert.True(t, gjson.GetBytes(body, "paths./api/chat/project.post").Exists())
}
