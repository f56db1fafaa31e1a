// Package school keeps the identity of the school: its display settings and the code
// companion apps use to find this intranet.
package school

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
)

const (
	CodeLength = 8
	// no 0/O nor 1/I so codes survive being read aloud
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	// errors
	ErrNotConfigured = core.NewNotFoundError("school configuration")
)

type Config struct {
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	PrimaryColor   string    `json:"primary_color"`
	SecondaryColor string    `json:"secondary_color"`
	Registered     bool      `json:"registered"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Discovery is the public subset of Config.
type Discovery struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
}

type UpdateConfig struct {
	Name           string `json:"name" validate:"required,max=200"`
	URL            string `json:"url" validate:"omitempty,url,max=300"`
	PrimaryColor   string `json:"primary_color" validate:"required,hexcolor_"`
	SecondaryColor string `json:"secondary_color" validate:"required,hexcolor_"`
}

func (uc *UpdateConfig) Validate(validate *validator.Validate) error {
	uc.Name = core.CleanString(uc.Name)
	uc.URL = core.CleanString(uc.URL)
	uc.PrimaryColor = core.CleanString(uc.PrimaryColor)
	uc.SecondaryColor = core.CleanString(uc.SecondaryColor)
	return validate.Struct(uc)
}

type (
	Repository interface {
		// GetSchool returns ErrNotConfigured until the first SaveSchool.
		GetSchool(ctx context.Context, exec ...core.DBExecutor) (Config, error)
		SaveSchool(ctx context.Context, c Config, exec ...core.DBExecutor) (Config, error)
	}

	Service struct {
		repo     Repository
		tx       core.TxRunner
		validate *validator.Validate
		defaults core.SchoolConfig
	}
)

func NewService(repo Repository, tx core.TxRunner, validate *validator.Validate, conf *core.Config) *Service {
	return &Service{repo: repo, tx: tx, validate: validate, defaults: conf.School}
}

func GenerateCode() (string, error) {
	return core.RandomString(CodeLength, codeAlphabet)
}

// Get returns the stored configuration, or the configured defaults without a code.
func (svc *Service) Get(ctx context.Context) (Config, error) {
	c, err := svc.repo.GetSchool(ctx)
	if errors.Cause(err) == ErrNotConfigured {
		return svc.fromDefaults(), nil
	}
	return c, err
}

func (svc *Service) fromDefaults() Config {
	return Config{
		Name:           svc.defaults.Name,
		URL:            svc.defaults.URL,
		PrimaryColor:   svc.defaults.PrimaryColor,
		SecondaryColor: svc.defaults.SecondaryColor,
	}
}

// EnsureCode makes sure the school has a code, generating one when missing or when force is set.
// generated reports whether a new code was stored.
func (svc *Service) EnsureCode(ctx context.Context, force bool) (c Config, generated bool, err error) {
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		c, err = svc.repo.GetSchool(ctx, exec)
		if errors.Cause(err) == ErrNotConfigured {
			c = svc.fromDefaults()
		} else if err != nil {
			return errors.Wrap(err, "getting school configuration")
		}
		if c.Code != "" && !force {
			return nil
		}
		if c.Code, err = GenerateCode(); err != nil {
			return errors.Wrap(err, "generating school code")
		}
		c.Registered = false
		c.UpdatedAt = time.Now().UTC()
		generated = true
		c, err = svc.repo.SaveSchool(ctx, c, exec)
		return errors.Wrap(err, "saving school configuration")
	})
	return c, generated, err
}

// Discover returns the public identity of the school, generating its code on first use.
func (svc *Service) Discover(ctx context.Context) (Discovery, error) {
	c, _, err := svc.EnsureCode(ctx, false)
	if err != nil {
		return Discovery{}, err
	}
	return Discovery{
		Code:           c.Code,
		Name:           c.Name,
		URL:            c.URL,
		PrimaryColor:   c.PrimaryColor,
		SecondaryColor: c.SecondaryColor,
	}, nil
}

func (svc *Service) Update(ctx context.Context, actor user.User, uc UpdateConfig) (Config, error) {
	if !actor.IsActive || !actor.IsAdmin() {
		return Config{}, core.NewPermissionError("only admins may change the school settings")
	}
	if err := uc.Validate(svc.validate); err != nil {
		return Config{}, err
	}
	c, _, err := svc.EnsureCode(ctx, false)
	if err != nil {
		return Config{}, err
	}
	c.Name = uc.Name
	c.URL = uc.URL
	c.PrimaryColor = uc.PrimaryColor
	c.SecondaryColor = uc.SecondaryColor
	c.UpdatedAt = time.Now().UTC()
	return svc.repo.SaveSchool(ctx, c)
}

// MarkRegistered flags the current code as registered with the companion directory.
func (svc *Service) MarkRegistered(ctx context.Context) (Config, error) {
	c, err := svc.repo.GetSchool(ctx)
	if err != nil {
		return Config{}, err
	}
	c.Registered = true
	c.UpdatedAt = time.Now().UTC()
	return svc.repo.SaveSchool(ctx, c)
}
