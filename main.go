// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dmsbridge/go-mail-dms/config"
	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/imapconnection"
	"github.com/dmsbridge/go-mail-dms/log"
	"github.com/dmsbridge/go-mail-dms/notify"
	"github.com/dmsbridge/go-mail-dms/parser"
	"github.com/dmsbridge/go-mail-dms/persistence"
	"github.com/dmsbridge/go-mail-dms/processor"
	"github.com/dmsbridge/go-mail-dms/sequence"
	"github.com/dmsbridge/go-mail-dms/upload"

	"github.com/sirupsen/logrus"
)

func main() {
	requeueErrors := flag.Bool("requeue-errors", false, "put errored mails back in waiting state and exit")
	listEmails := flag.Int("list-emails", 0, "list the last N mails with their status flags and exit")
	getEml := flag.Uint("get-eml", 0, "write mail with this uid as .eml to the output dir and exit")
	orig := flag.Bool("orig", false, "with -get-eml, extract the wrapped origin mail instead of the outer message")
	genPdf := flag.Uint("gen-pdf", 0, "render mail with this uid to pdf in the output dir and exit")
	stats := flag.Bool("stats", false, "print mailbox statistics and exit")
	cleanDays := flag.Int("clean-days", 0, "delete imported mails older than N days and exit")
	cleanListOnly := flag.Bool("clean-list-only", false, "with -clean-days, only list the mails that would be deleted")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] config.toml\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	log.InitLogging("info")
	logger := log.Logger(log.LOG_MAIN)

	conf, err := config.ReadConfig(flag.Arg(0))
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}

	runLock, err := sequence.AcquireRunLock(conf.CounterDir, conf.ClientID)
	if err != nil {
		var held *sequence.LockHeldError
		if errors.As(err, &held) {
			logger.WithField("lock", held.Path).Fatal("Another run is still active, aborting")
		}
		logger.WithField("error", err).Fatal("Could not acquire run lock")
	}
	defer runLock.Release()

	imapConn, err := imapconnection.NewImapConnection(conf.ImapHost, conf.ImapTLS, conf.ImapUser, conf.ImapPassword)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not connect to imap server")
	}
	defer imapConn.Close()

	mailParser := parser.NewParser(&parser.CommandRenderer{Command: conf.PdfCommand})

	switch {
	case *requeueErrors:
		runRequeue(logger, imapConn)
	case *listEmails > 0:
		runList(logger, imapConn, *listEmails)
	case *getEml > 0:
		runGetEml(logger, imapConn, mailParser, conf, uint32(*getEml), *orig)
	case *genPdf > 0:
		runGenPdf(logger, imapConn, mailParser, conf, uint32(*genPdf))
	case *stats:
		runStats(logger, imapConn, conf)
	case *cleanDays > 0:
		runClean(logger, imapConn, *cleanDays, *cleanListOnly)
	default:
		runBatch(logger, imapConn, mailParser, conf)
	}
}

func runBatch(logger *logrus.Logger, imapConn *imapconnection.ImapConnection, mailParser *parser.Parser, conf *config.Config) {
	var store domain.SequenceStore
	var journal domain.Journal
	if conf.Database != "" {
		p, err := persistence.NewPersistence(conf.Database)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not open database")
		}
		defer p.Close()
		store = p
		journal = p
	} else {
		fileStore, err := sequence.NewFileStore(conf.CounterDir)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not open counter dir")
		}
		store = fileStore
	}

	uploader := upload.NewClient(
		conf.WebserviceURL,
		conf.WebserviceVersion,
		conf.WebserviceUser,
		conf.WebservicePassword,
		conf.ClientID,
		store,
	)

	notifier := notify.NewMailer(
		&notify.SMTPSender{Host: conf.SmtpHost},
		conf.ClientID,
		conf.ImapUser,
		conf.SmtpSender,
		conf.SmtpRecipient,
	)

	configs := []processor.ConfigFunc{
		processor.SenderPattern(regexp.MustCompile("(?i)" + conf.SenderPattern)),
	}
	if journal != nil {
		configs = append(configs, processor.Journal(journal))
	}

	mp, err := processor.NewMailProcessor(imapConn, mailParser, uploader, notifier, configs...)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not start mail processor")
	}

	logger.WithFields(logrus.Fields{"server": conf.ImapHost, "client": conf.ClientID}).Info("Processing waiting mails")
	summary, err := mp.ProcessAll()
	if err != nil {
		logger.WithField("error", err).Fatal("Processing pass failed")
	}

	// Per-mail failures are flagged and reported by mail, the run itself
	// still counts as successful.
	logger.WithFields(logrus.Fields{
		"imported":    summary.Imported,
		"unsupported": summary.Unsupported,
		"ignored":     summary.Ignored,
		"errors":      summary.Errors,
	}).Info("Run finished")
}

func runRequeue(logger *logrus.Logger, imapConn *imapconnection.ImapConnection) {
	count, err := imapConn.RequeueErrored()
	if err != nil {
		logger.WithField("error", err).Fatal("Could not requeue errored mails")
	}
	fmt.Printf("requeued %d errored mails\n", count)
}

func runList(logger *logrus.Logger, imapConn *imapconnection.ImapConnection, n int) {
	infos, err := imapConn.ListLast(n)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not list mails")
	}
	for _, info := range infos {
		fmt.Printf("%d\t[%s]\t%s\n", info.ID, strings.Join(info.Flags, " "), info.Subject)
	}
}

func runGetEml(logger *logrus.Logger, imapConn *imapconnection.ImapConnection, mailParser *parser.Parser, conf *config.Config, id uint32, orig bool) {
	m, err := imapConn.GetMail(id)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not fetch mail")
	}

	raw := m.Raw
	name := fmt.Sprintf("mail_%d.eml", id)
	if orig {
		parsed, err := mailParser.Parse(m.Raw)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not parse mail")
		}
		raw = parsed.Origin
		name = fmt.Sprintf("mail_%d_origin.eml", id)
	}

	path := filepath.Join(conf.OutputDir, name)
	err = os.WriteFile(path, raw, 0o644)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not write eml file")
	}
	fmt.Println(path)
}

func runGenPdf(logger *logrus.Logger, imapConn *imapconnection.ImapConnection, mailParser *parser.Parser, conf *config.Config, id uint32) {
	m, err := imapConn.GetMail(id)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not fetch mail")
	}

	parsed, err := mailParser.Parse(m.Raw)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not parse mail")
	}

	pdf, _, err := mailParser.RenderPDF(parsed.Origin)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not render mail to pdf")
	}

	path := filepath.Join(conf.OutputDir, fmt.Sprintf("mail_%d.pdf", id))
	err = os.WriteFile(path, pdf, 0o644)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not write pdf file")
	}
	fmt.Println(path)
}

func runStats(logger *logrus.Logger, imapConn *imapconnection.ImapConnection, conf *config.Config) {
	mailboxStats, err := imapConn.Stats()
	if err != nil {
		logger.WithField("error", err).Fatal("Could not read mailbox statistics")
	}

	fmt.Printf("total\t%d\n", mailboxStats.Total)
	for _, keyword := range []string{domain.KeywordImported, domain.KeywordError, domain.KeywordUnsupported, domain.KeywordWaiting} {
		fmt.Printf("%s\t%d\n", keyword, mailboxStats.Flags[keyword])
	}

	// The mailbox only counts what is still in it; the journal also covers
	// processed mails that were cleaned out since.
	if conf.Database == "" {
		return
	}

	p, err := persistence.NewPersistence(conf.Database)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not open database")
	}
	defer p.Close()

	counts, err := p.OutcomeCounts()
	if err != nil {
		logger.WithField("error", err).Fatal("Could not read journal statistics")
	}
	for _, outcome := range []string{domain.OutcomeImported, domain.OutcomeUnsupported, domain.OutcomeIgnored, domain.OutcomeError} {
		fmt.Printf("journal %s\t%d\n", outcome, counts[outcome])
	}
}

func runClean(logger *logrus.Logger, imapConn *imapconnection.ImapConnection, days int, listOnly bool) {
	olderThan := time.Now().AddDate(0, 0, -days)
	infos, err := imapConn.CleanImported(olderThan, listOnly)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not clean imported mails")
	}

	verb := "deleted"
	if listOnly {
		verb = "would delete"
	}
	for _, info := range infos {
		fmt.Printf("%s\t%d\t%s\n", verb, info.ID, info.Subject)
	}
	fmt.Printf("%s %d imported mails older than %d days\n", verb, len(infos), days)
}
