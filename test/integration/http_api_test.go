// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/otpgate/otpgate/internal/auth"
	"github.com/otpgate/otpgate/internal/httpapi"
)

var _ = Describe("HTTP API", func() {
	var (
		env    *testEnv
		server *httptest.Server
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)

		var err error
		env, err = setupTestEnv(auth.Policy{RequireVerifiedEmail: true})
		Expect(err).NotTo(HaveOccurred())

		handler := httpapi.NewHandler(env.svc, nil, nil)
		server = httptest.NewServer(httpapi.NewRouter(handler))
	})

	AfterEach(func() {
		server.Close()
		env.cleanup()
	})

	post := func(path string, body any) (*http.Response, map[string]any) {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())

		resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)

		var decoded map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&decoded)).To(Succeed())
		return resp, decoded
	}

	It("serves the full lifecycle over the wire", func() {
		const email = "grace@example.com"

		By("registering")
		resp, body := post("/api/v1/auth/register", map[string]any{
			"email":                 email,
			"username":              "grace",
			"password":              "correct horse battery",
			"password_confirmation": "correct horse battery",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(body["email"]).To(Equal(email))

		code := env.notifier.lastCode(email)
		Expect(code).To(HaveLen(6))

		By("refusing login until verified")
		resp, _ = post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "correct horse battery",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

		By("verifying the email with the delivered code")
		resp, body = post("/api/v1/auth/email/verify", map[string]any{
			"email": email,
			"code":  code,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("email verified"))

		By("logging in for a token")
		resp, body = post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "correct horse battery",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["token"]).NotTo(BeEmpty())

		By("resetting the password")
		resp, _ = post("/api/v1/auth/password/forgot", map[string]any{"email": email})
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		resetCode := env.notifier.lastCode(email)
		resp, body = post("/api/v1/auth/password/reset", map[string]any{
			"email":                 email,
			"code":                  resetCode,
			"password":              "staple gun horizon",
			"password_confirmation": "staple gun horizon",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("password reset"))

		By("accepting only the new password afterwards")
		resp, _ = post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "correct horse battery",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		resp, _ = post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "staple gun horizon",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("maps domain failures to status codes", func() {
		const email = "henry@example.com"
		_, body := post("/api/v1/auth/register", map[string]any{
			"email":                 email,
			"username":              "henry",
			"password":              "correct horse battery",
			"password_confirmation": "correct horse battery",
		})
		Expect(body["email"]).To(Equal(email))

		code := env.notifier.lastCode(email)
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}

		resp, body := post("/api/v1/auth/email/verify", map[string]any{
			"email": email,
			"code":  wrong,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(body["error"]).To(Equal("invalid code"))

		resp, _ = post("/api/v1/auth/password/forgot", map[string]any{
			"email": "nobody@example.com",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

		resp, _ = post("/api/v1/auth/register", map[string]any{
			"email":                 email,
			"username":              "henry2",
			"password":              "correct horse battery",
			"password_confirmation": "correct horse battery",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
	})

	It("reports liveness", func() {
		resp, err := http.Get(fmt.Sprintf("%s/healthz", server.URL))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
