package pkg

import (
	"github.com/rs/zerolog/log"

	"attrition/pkg/io"
)

func PrintDataErrors(errors []io.DataError) {
	for _, err := range errors {
		log.Error().Msgf("Error parsing data at line %d: %s", err.Line, err.Error)
	}
}
