package identity

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// GetFiberSession pulls the decoded session out of the request locals, set
// there by the jwtware middleware under the configured context key.
func GetFiberSession(c *fiber.Ctx, key string) (*SessionObject, error) {
	cookie := c.Locals(key)
	if cookie == nil {
		return nil, ErrUnableToFindSession
	}

	user, ok := cookie.(*jwt.Token)
	if user == nil || !ok {
		return nil, ErrUnableToDecodeSession
	}

	claims, ok := user.Claims.(jwt.MapClaims)
	if claims == nil || !ok {
		return nil, ErrUnableToMapClaims
	}

	return sessionFromClaims(claims)
}

// RegisterIdentityRoutes mounts the account and verification endpoints on app.
func RegisterIdentityRoutes(app fiber.Router, opts ...IdentityControllerOption) {
	controller := NewIdentityController(opts...)

	app.Post(controller.Routes.Register, controller.Register).Name("auth.register")
	app.Post(controller.Routes.Login, controller.Login).Name("auth.login")
	app.Post(controller.Routes.Logout, controller.Logout).Name("auth.logout")

	app.Post(controller.Routes.SignUp, controller.SignUp).Name("verification.sign-up")
	app.Post(controller.Routes.VerifyEmail, controller.VerifyEmail).Name("verification.verify-email")
	app.Post(controller.Routes.ResendVerification, controller.ResendVerification).Name("verification.resend")
	app.Post(controller.Routes.Invite, controller.Invite).Name("verification.invite")
	app.Post(controller.Routes.AcceptInvitation, controller.AcceptInvitation).Name("verification.accept-invitation")
	app.Post(controller.Routes.ForgotPassword, controller.ForgotPassword).Name("verification.forgot-password")
	app.Post(controller.Routes.ResetPassword, controller.ResetPassword).Name("verification.reset-password")
}

type IdentityControllerRoutes struct {
	Register           string
	Login              string
	Logout             string
	SignUp             string
	VerifyEmail        string
	ResendVerification string
	Invite             string
	AcceptInvitation   string
	ForgotPassword     string
	ResetPassword      string
}

type IdentityController struct {
	Debug    bool
	Logger   Logger
	Repo     RepositoryManager
	Routes   *IdentityControllerRoutes
	Auther   *RouteAuthenticator
	Hasher   *Hasher
	Notifier Notifier
}

type IdentityControllerOption func(*IdentityController) *IdentityController

func WithControllerLogger(logger Logger) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuther(auther *RouteAuthenticator) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Auther = auther
		return c
	}
}

func WithControllerHasher(hasher *Hasher) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		if hasher != nil {
			c.Hasher = hasher
		}
		return c
	}
}

func WithControllerNotifier(notifier Notifier) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Notifier = notifier
		return c
	}
}

func WithControllerDebug(debug bool) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Debug = debug
		return c
	}
}

func NewIdentityController(opts ...IdentityControllerOption) *IdentityController {
	c := &IdentityController{
		Logger:   defLogger{},
		Hasher:   NewHasher(DefaultBcryptCost),
		Notifier: NoopNotifier{},
		Routes: &IdentityControllerRoutes{
			Register:           "/auth/register",
			Login:              "/auth/login",
			Logout:             "/auth/logout",
			SignUp:             "/verification/sign-up",
			VerifyEmail:        "/verification/verify-email",
			ResendVerification: "/verification/resend-verification",
			Invite:             "/verification/invite",
			AcceptInvitation:   "/verification/accept-invitation",
			ForgotPassword:     "/verification/forgot-password",
			ResetPassword:      "/verification/reset-password",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in identity controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in identity controller...")
	}

	return c
}

// RegisterRequest payload
type RegisterRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *IdentityController) Register(c *fiber.Ctx) error {
	payload := new(RegisterRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(fiber.Map{"email": payload.Email}))
		fmt.Println("============================")
	}

	user, err := a.Auther.Register(c, RegisterInput{
		Email:         payload.Email,
		Password:      payload.Password,
		FirstName:     payload.FirstName,
		LastName:      payload.LastName,
		EmailVerified: true,
	})
	if err != nil {
		return a.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user": user,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *IdentityController) Login(c *fiber.Ctx) error {
	payload := new(LoginRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	user, err := a.Auther.Login(c, payload.Email, payload.Password, payload.RememberMe)
	if err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"user": user,
	})
}

func (a *IdentityController) Logout(c *fiber.Ctx) error {
	a.Auther.Logout(c)
	return c.JSON(fiber.Map{
		"message": "Signed out",
	})
}

// SignUpRequest payload
type SignUpRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r SignUpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *IdentityController) SignUp(c *fiber.Ctx) error {
	payload := new(SignUpRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	signUp := NewSignUpHandler(a.Repo, a.Hasher, a.Notifier).WithLogger(a.Logger)

	if err := signUp.Execute(c.Context(), SignUpMessage{
		Email:     payload.Email,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	}); err != nil {
		return a.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Account created, check your email to confirm your address",
	})
}

// VerifyEmailRequest payload
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// Validate will run validation rules
func (r VerifyEmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

func (a *IdentityController) VerifyEmail(c *fiber.Ctx) error {
	payload := new(VerifyEmailRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	verify := NewVerifyEmailHandler(a.Repo).WithLogger(a.Logger)
	if err := verify.Execute(c.Context(), VerifyEmailMessage{Token: payload.Token}); err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Email address confirmed",
	})
}

// ResendVerificationRequest payload
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r ResendVerificationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *IdentityController) ResendVerification(c *fiber.Ctx) error {
	payload := new(ResendVerificationRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	resend := NewResendVerificationHandler(a.Repo, a.Notifier).WithLogger(a.Logger)
	if err := resend.Execute(c.Context(), ResendVerificationMessage{Email: payload.Email}); err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": MsgGenericEmailSent,
	})
}

// InviteRequest payload
type InviteRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
}

// Validate will run validation rules
func (r InviteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
	)
}

func (a *IdentityController) Invite(c *fiber.Ctx) error {
	session, err := GetFiberSession(c, a.Auther.cfg.GetContextKey())
	if err != nil || !session.IsAdmin {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": MsgInvalidCredentials,
		})
	}

	payload := new(InviteRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	invite := NewInviteUserHandler(a.Repo, a.Notifier).WithLogger(a.Logger)

	res, err := invite.Execute(c.Context(), InviteUserMessage{
		Email:       payload.Email,
		FirstName:   payload.FirstName,
		LastName:    payload.LastName,
		IsAdmin:     payload.IsAdmin,
		InviterName: session.FirstName,
	})
	if err != nil {
		return a.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user": res.User,
	})
}

// AcceptInvitationRequest payload
type AcceptInvitationRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

// Validate will run validation rules
func (r AcceptInvitationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
	)
}

func (a *IdentityController) AcceptInvitation(c *fiber.Ctx) error {
	payload := new(AcceptInvitationRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	accept := NewAcceptInvitationHandler(a.Repo, a.Hasher).WithLogger(a.Logger)

	if err := accept.Execute(c.Context(), AcceptInvitationMessage{
		Token:     payload.Token,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	}); err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Account activated, you can now sign in",
	})
}

// ForgotPasswordRequest payload
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r ForgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *IdentityController) ForgotPassword(c *fiber.Ctx) error {
	payload := new(ForgotPasswordRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	initReset := NewInitializePasswordResetHandler(a.Repo, a.Notifier).WithLogger(a.Logger)
	if err := initReset.Execute(c.Context(), InitializePasswordResetMessage{Email: payload.Email}); err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": MsgGenericEmailSent,
	})
}

// ResetPasswordRequest payload
type ResetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *IdentityController) ResetPassword(c *fiber.Ctx) error {
	payload := new(ResetPasswordRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.badBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	finalize := NewFinalizePasswordResetHandler(a.Repo, a.Hasher).WithLogger(a.Logger)
	if err := finalize.Execute(c.Context(), FinalizePasswordResetMessage{
		Token:    payload.Token,
		Password: payload.Password,
	}); err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Password updated, you can now sign in",
	})
}

func (a *IdentityController) badBody(c *fiber.Ctx, err error) error {
	a.Logger.Error("parse request payload: %s", err)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Error parsing body",
	})
}

func (a *IdentityController) invalidPayload(c *fiber.Ctx, err error) error {
	a.Logger.Error("validate request payload: %s", err)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":      "Error validating payload",
		"validation": FormatValidationErrorToMap(err),
	})
}

// respondError maps domain error categories onto HTTP responses. Clients only
// ever see the public message, metadata and chained causes stay server side.
func (a *IdentityController) respondError(c *fiber.Ctx, err error) error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		status := fiber.StatusInternalServerError
		message := rich.Message

		switch rich.Category {
		case goerrors.CategoryValidation, goerrors.CategoryBadInput:
			status = fiber.StatusBadRequest
		case goerrors.CategoryAuth:
			status = fiber.StatusUnauthorized
		case goerrors.CategoryConflict:
			status = fiber.StatusConflict
		case goerrors.CategoryNotFound:
			status = fiber.StatusNotFound
		default:
			message = "Internal server error"
			a.Logger.Error("identity request failed: %s", err)
		}

		return c.Status(status).JSON(fiber.Map{
			"error": message,
		})
	}

	a.Logger.Error("identity request failed: %s", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}

// FormatValidationErrorToMap flattens an ozzo validation error into a
// field -> message map.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}

	if err != nil {
		out["payload"] = err.Error()
	}

	return out
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}
