// Package logging builds the structured slog logger used across gatekeeper.
//
// Components receive a *slog.Logger and tag it with their component name.
// The handler installed by New adds request, organization, operator and
// queue item identifiers carried on the context, plus the active trace and
// span IDs, and masks credentials such as Git tokens and DSN passwords.
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	ctx = logging.WithOrgID(ctx, "org-1")
//	logger.InfoContext(ctx, "item enqueued", "item_id", id)
package logging
