// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/otpgate/otpgate/internal/auth"
	authpg "github.com/otpgate/otpgate/internal/auth/postgres"
	"github.com/otpgate/otpgate/internal/store"
)

// recordingNotifier keeps every code delivered per address so tests can
// play the user reading their inbox, latest message first or all of them.
type recordingNotifier struct {
	mu    sync.Mutex
	codes map[string][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{codes: make(map[string][]string)}
}

func (n *recordingNotifier) SendOTP(_ context.Context, email, code string, _ auth.Purpose) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[email] = append(n.codes[email], code)
	return nil
}

func (n *recordingNotifier) lastCode(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	delivered := n.codes[email]
	if len(delivered) == 0 {
		return ""
	}
	return delivered[len(delivered)-1]
}

func (n *recordingNotifier) allCodes(email string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.codes[email]...)
}

// testEnv holds the resources a spec needs: a throwaway database with the
// schema applied and a service wired against it.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	repo      *authpg.UserRepository
	svc       *auth.Service
	tokens    *auth.JWTIssuer
	notifier  *recordingNotifier
}

func setupTestEnv(policy auth.Policy) (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("otpgate_test"),
		postgres.WithUsername("otpgate"),
		postgres.WithPassword("otpgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.repo = authpg.NewUserRepository(env.pool)
	env.notifier = newRecordingNotifier()

	env.tokens, err = auth.NewJWTIssuer("integration-test-secret", time.Hour)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.svc, err = auth.NewService(env.repo, auth.NewArgon2idHasher(), env.notifier, env.tokens, policy)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	return env, nil
}

func (env *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

func registration(email string) auth.Registration {
	return auth.Registration{
		Email:    email,
		Username: "tester",
		Password: "correct horse battery",
	}
}

var _ = Describe("Account lifecycle", func() {
	var env *testEnv

	BeforeEach(func() {
		var err error
		env, err = setupTestEnv(auth.Policy{RequireVerifiedEmail: true})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		env.cleanup()
	})

	Describe("Registration and email verification", func() {
		It("walks a new account from registration to a usable login", func() {
			const email = "alice@example.com"

			user, err := env.svc.Register(env.ctx, registration(email))
			Expect(err).NotTo(HaveOccurred())
			Expect(user.EmailVerifiedAt).To(BeNil())

			code := env.notifier.lastCode(email)
			Expect(code).To(HaveLen(6), "registration should deliver a verification code")

			By("rejecting login before the email is verified")
			_, err = env.svc.Login(env.ctx, email, "correct horse battery")
			Expect(err).To(MatchError(auth.ErrEmailNotVerified))

			By("accepting the delivered code")
			Expect(env.svc.VerifyOTP(env.ctx, email, code)).To(Succeed())

			stored, err := env.repo.GetByEmail(env.ctx, email)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.EmailVerifiedAt).NotTo(BeNil())
			Expect(stored.OTP).To(BeNil(), "a consumed code must be cleared")

			By("issuing a token whose subject is the account id")
			token, err := env.svc.Login(env.ctx, email, "correct horse battery")
			Expect(err).NotTo(HaveOccurred())
			subject, err := env.tokens.Subject(token)
			Expect(err).NotTo(HaveOccurred())
			Expect(subject).To(Equal(user.ID))
		})

		It("rejects a second registration for the same address regardless of case", func() {
			_, err := env.svc.Register(env.ctx, registration("bob@example.com"))
			Expect(err).NotTo(HaveOccurred())

			_, err = env.svc.Register(env.ctx, registration("Bob@Example.COM"))
			Expect(err).To(MatchError(auth.ErrDuplicateEmail))
		})

		It("keeps the pending code alive after a wrong guess", func() {
			const email = "carol@example.com"
			_, err := env.svc.Register(env.ctx, registration(email))
			Expect(err).NotTo(HaveOccurred())
			code := env.notifier.lastCode(email)

			wrong := "000000"
			if wrong == code {
				wrong = "000001"
			}
			Expect(env.svc.VerifyOTP(env.ctx, email, wrong)).To(MatchError(auth.ErrOTPInvalid))

			Expect(env.svc.VerifyOTP(env.ctx, email, code)).To(Succeed())
		})

		It("invalidates the previous code when a new one is requested", func() {
			const email = "dave@example.com"
			_, err := env.svc.Register(env.ctx, registration(email))
			Expect(err).NotTo(HaveOccurred())
			first := env.notifier.lastCode(email)

			Expect(env.svc.RequestEmailVerification(env.ctx, email)).To(Succeed())
			second := env.notifier.lastCode(email)

			if first == second {
				// The replacement drew the same digits; a single pending
				// code remains, good for exactly one verification.
				Expect(env.svc.VerifyOTP(env.ctx, email, second)).To(Succeed())
				Expect(env.svc.VerifyOTP(env.ctx, email, first)).To(MatchError(auth.ErrOTPExpired))
			} else {
				Expect(env.svc.VerifyOTP(env.ctx, email, first)).To(MatchError(auth.ErrOTPInvalid))
				Expect(env.svc.VerifyOTP(env.ctx, email, second)).To(Succeed())
			}
		})

		It("lets exactly one of many concurrent verifications consume the code", func() {
			const email = "erin@example.com"
			_, err := env.svc.Register(env.ctx, registration(email))
			Expect(err).NotTo(HaveOccurred())
			code := env.notifier.lastCode(email)

			const workers = 8
			errs := make([]error, workers)
			var wg sync.WaitGroup
			for i := range workers {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = env.svc.VerifyOTP(env.ctx, email, code)
				}(i)
			}
			wg.Wait()

			successes := 0
			for _, err := range errs {
				if err == nil {
					successes++
				} else {
					Expect(err).To(MatchError(auth.ErrOTPExpired))
				}
			}
			Expect(successes).To(Equal(1), "the code is single use")
		})
	})

	Describe("Password reset", func() {
		const email = "frank@example.com"
		const oldPassword = "correct horse battery"
		const newPassword = "staple gun horizon"

		BeforeEach(func() {
			_, err := env.svc.Register(env.ctx, registration(email))
			Expect(err).NotTo(HaveOccurred())
			Expect(env.svc.VerifyOTP(env.ctx, email, env.notifier.lastCode(email))).To(Succeed())
		})

		It("replaces the password and retires the code in one step", func() {
			Expect(env.svc.RequestPasswordReset(env.ctx, email)).To(Succeed())
			code := env.notifier.lastCode(email)

			Expect(env.svc.ResetPassword(env.ctx, email, code, newPassword)).To(Succeed())

			_, err := env.svc.Login(env.ctx, email, oldPassword)
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))

			_, err = env.svc.Login(env.ctx, email, newPassword)
			Expect(err).NotTo(HaveOccurred())

			By("refusing a replay of the consumed code")
			Expect(env.svc.ResetPassword(env.ctx, email, code, "yet another pass")).
				To(MatchError(auth.ErrOTPExpired))
		})

		It("keeps the old password when the code is wrong", func() {
			Expect(env.svc.RequestPasswordReset(env.ctx, email)).To(Succeed())
			code := env.notifier.lastCode(email)

			wrong := "000000"
			if wrong == code {
				wrong = "000001"
			}
			Expect(env.svc.ResetPassword(env.ctx, email, wrong, newPassword)).
				To(MatchError(auth.ErrOTPInvalid))

			_, err := env.svc.Login(env.ctx, email, oldPassword)
			Expect(err).NotTo(HaveOccurred())
		})

		It("leaves exactly one consumable code after simultaneous requests", func() {
			before := len(env.notifier.allCodes(email))

			start := make(chan struct{})
			errs := make([]error, 2)
			var wg sync.WaitGroup
			for i := range 2 {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					errs[i] = env.svc.RequestPasswordReset(env.ctx, email)
				}(i)
			}
			close(start)
			wg.Wait()

			for _, err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			delivered := env.notifier.allCodes(email)[before:]
			Expect(delivered).To(HaveLen(2))

			stored, err := env.repo.GetByEmail(env.ctx, email)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.OTP).NotTo(BeNil())
			Expect(delivered).To(ContainElement(*stored.OTP),
				"the record must hold one of the delivered codes")

			successes := 0
			for _, code := range delivered {
				if env.svc.ResetPassword(env.ctx, email, code, newPassword) == nil {
					successes++
				}
			}
			Expect(successes).To(Equal(1), "only the surviving code may redeem a reset")
		})

		It("keeps a committed reset when a re-request races it", func() {
			Expect(env.svc.RequestPasswordReset(env.ctx, email)).To(Succeed())
			code := env.notifier.lastCode(email)

			var resetErr, requestErr error
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				resetErr = env.svc.ResetPassword(env.ctx, email, code, newPassword)
			}()
			go func() {
				defer wg.Done()
				requestErr = env.svc.RequestPasswordReset(env.ctx, email)
			}()
			wg.Wait()

			Expect(requestErr).NotTo(HaveOccurred())

			if resetErr == nil {
				// The reset committed; the racing issuance must not have
				// written the old hash back over it.
				_, err := env.svc.Login(env.ctx, email, newPassword)
				Expect(err).NotTo(HaveOccurred())
			} else {
				// The re-request won the row and retired the code first.
				Expect(resetErr).To(MatchError(auth.ErrOTPInvalid))
				_, err := env.svc.Login(env.ctx, email, oldPassword)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("does not reveal whether an address exists", func() {
			Expect(env.svc.RequestPasswordReset(env.ctx, "nobody@example.com")).
				To(MatchError(auth.ErrNotFound))

			_, unknownErr := env.svc.Login(env.ctx, "nobody@example.com", "whatever pass")
			_, wrongErr := env.svc.Login(env.ctx, email, "wrong password!")
			Expect(unknownErr).To(MatchError(auth.ErrInvalidCredentials))
			Expect(wrongErr).To(MatchError(auth.ErrInvalidCredentials))
			Expect(unknownErr.Error()).To(Equal(wrongErr.Error()),
				"login failures must read identically for unknown and known accounts")
		})
	})
})
