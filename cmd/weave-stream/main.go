// Command weave-stream is an AWS Lambda function validating DynamoDB stream
// records against the rules configured per table.
package main

import (
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/weave/internal/app"
)

func main() {
	a, err := app.Open(app.Options{ConfigPath: os.Getenv("WEAVE_CONFIG")})
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	h, err := a.StreamHandler()
	if err != nil {
		a.Logger.Error("failed to build stream handler", "error", err)
		os.Exit(1)
	}
	lambda.Start(h.HandleValidate)
}
