package infra

import (
	"context"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"callerid-gateway/callerid/domain"
)

// NumberAdder é quem cadastra números (o Coordinator).
type NumberAdder interface {
	AddNumber(ctx context.Context, spec domain.NumberSpec) (domain.CallerNumber, error)
}

// SeedFile é o formato YAML do arquivo de carga inicial:
//
//	numbers:
//	  - caller_id: "2125550001"
//	    carrier: acme
//	    hourly_limit: 50
type SeedFile struct {
	Numbers []domain.NumberSpec `yaml:"numbers" validate:"dive"`
}

// SeedResult resume uma carga.
type SeedResult struct {
	Added   int
	Skipped int
}

// ParseSeed decodifica e valida o YAML.
func ParseSeed(r io.Reader) (SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return SeedFile{}, nil
		}
		return SeedFile{}, errors.Wrap(err, "decode seed yaml")
	}
	if err := validator.New().Struct(f); err != nil {
		return SeedFile{}, errors.Wrap(err, "invalid seed")
	}
	return f, nil
}

// LoadSeedFile lê o arquivo e cadastra cada número. Números já existentes são
// pulados, então a carga pode rodar a cada boot.
func LoadSeedFile(ctx context.Context, path string, adder NumberAdder, logger *zap.Logger) (SeedResult, error) {
	fh, err := os.Open(path)
	if err != nil {
		return SeedResult{}, errors.Wrapf(err, "open seed file %s", path)
	}
	defer fh.Close()

	f, err := ParseSeed(fh)
	if err != nil {
		return SeedResult{}, errors.WithMessage(err, path)
	}
	return Seed(ctx, f, adder, logger)
}

func Seed(ctx context.Context, f SeedFile, adder NumberAdder, logger *zap.Logger) (SeedResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res SeedResult
	for _, spec := range f.Numbers {
		_, err := adder.AddNumber(ctx, spec)
		switch {
		case err == nil:
			res.Added++
		case errors.Is(err, domain.ErrNumberAlreadyExists):
			res.Skipped++
		default:
			return res, errors.Wrapf(err, "seed caller id %s", spec.ID)
		}
	}
	logger.Info("seed loaded", zap.Int("added", res.Added), zap.Int("skipped", res.Skipped))
	return res, nil
}
