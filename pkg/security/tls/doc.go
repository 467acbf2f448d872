// Package tls terminates TLS for the API server.
//
// The certificate pair is served through a CertificateReloader, which polls
// the files and swaps in a renewed pair without a restart. A pair that fails
// to load or is outside its validity period is rejected and the previous
// one keeps serving.
//
//	reloader := tls.NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval)
//	if err := reloader.Start(ctx); err != nil {
//	    return err
//	}
//	server.TLSConfig, err = tls.ServerConfig(cfg, reloader)
package tls
