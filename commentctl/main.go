package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"

	"github.com/bringyour/commentsync/comments"
)

const DefaultApiUrl = "https://api.bringyour.com"
const DefaultStreamUrl = "wss://api.bringyour.com"

const CommentCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	// values already set in the environment win over .env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		Err.Printf("Could not load .env (%s).", err)
	}

	usage := fmt.Sprintf(
		`Comment control.

The default urls are:
    api_url: %s
    stream_url: %s

The environment variables COMMENT_API_URL, COMMENT_STREAM_URL, COMMENT_JWT and
COMMENT_PLATFORM are used when the matching option is not set. A .env file in the
working directory is loaded first.

Usage:
    commentctl watch --post=<post_id> [--timeout=<timeout>]
        [--api_url=<api_url>] [--stream_url=<stream_url>] [--jwt=<jwt>]
    commentctl post --post=<post_id> <content>
        [--api_url=<api_url>] [--stream_url=<stream_url>] [--jwt=<jwt>] [--platform=<platform>]
    commentctl like --post=<post_id> <comment_id>
        [--api_url=<api_url>] [--stream_url=<stream_url>] [--jwt=<jwt>]
    commentctl dislike --post=<post_id> <comment_id>
        [--api_url=<api_url>] [--stream_url=<stream_url>] [--jwt=<jwt>]
    commentctl delete --post=<post_id> <comment_id>
        [--api_url=<api_url>] [--stream_url=<stream_url>] [--jwt=<jwt>]
    commentctl report --post=<post_id> <comment_id> [<reason>]
        [--api_url=<api_url>] [--stream_url=<stream_url>] [--jwt=<jwt>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --api_url=<api_url>
    --stream_url=<stream_url>
    --jwt=<jwt>                Your platform JWT.
    --platform=<platform>      Platform tag sent with new comments.
    --post=<post_id>           The post to sync.
    --timeout=<timeout>        Stop watching after this duration, e.g. 5m.`,
		DefaultApiUrl,
		DefaultStreamUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CommentCtlVersion)
	if err != nil {
		panic(err)
	}

	if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if post_, _ := opts.Bool("post"); post_ {
		post(opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		react(opts, comments.Like)
	} else if dislike_, _ := opts.Bool("dislike"); dislike_ {
		react(opts, comments.Dislike)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteComment(opts)
	} else if report_, _ := opts.Bool("report"); report_ {
		report(opts)
	}
}

// the option, else the environment, else the default
func optOrEnv(opts docopt.Opts, key string, envKey string, defaultValue string) string {
	if valueAny := opts[key]; valueAny != nil {
		if value, ok := valueAny.(string); ok && value != "" {
			return value
		}
	}
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return defaultValue
}

func requireJwt(opts docopt.Opts) string {
	if jwt := optOrEnv(opts, "--jwt", "COMMENT_JWT", ""); jwt != "" {
		return jwt
	}
	fmt.Print("Enter jwt: ")
	jwtBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		panic(err)
	}
	fmt.Printf("\n")
	return string(jwtBytes)
}

func newClient(ctx context.Context, opts docopt.Opts) *comments.CommentClient {
	settings := comments.DefaultCommentClientSettings()
	settings.ApiUrl = optOrEnv(opts, "--api_url", "COMMENT_API_URL", DefaultApiUrl)
	settings.StreamUrl = optOrEnv(opts, "--stream_url", "COMMENT_STREAM_URL", DefaultStreamUrl)
	settings.MutationSettings.PlatformTag = optOrEnv(
		opts,
		"--platform",
		"COMMENT_PLATFORM",
		settings.MutationSettings.PlatformTag,
	)

	client, err := comments.NewCommentClient(ctx, requireJwt(opts), settings)
	if err != nil {
		Err.Printf("Invalid jwt (%s).", err)
		os.Exit(1)
	}
	return client
}

// opens the post and waits for the first poll to land
func openSession(ctx context.Context, client *comments.CommentClient, opts docopt.Opts) *comments.Session {
	postId, _ := opts.String("--post")
	session := client.Open(comments.PostId(postId))
	session.WaitFor(ctx, 15*time.Second, func(c []*comments.Comment) bool {
		return 0 < len(c)
	})
	return session
}

func printComments(session *comments.Session) {
	Out.Printf("post %s (%d comments)", session.PostId(), session.Store().Len())
	for _, comment := range session.Comments() {
		Out.Printf(
			"  [%s] %s (%s) +%d -%d %s: %s",
			comment.Id,
			comment.AuthorDisplayName,
			comment.CreatedAt.Format(time.RFC3339),
			comment.LikedBy.Len(),
			comment.DislikedBy.Len(),
			comment.PendingState,
			comment.Content,
		)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
}

func watch(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	if timeoutStr, err := opts.String("--timeout"); err == nil && timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			Err.Printf("Invalid timeout (%s).", err)
			return
		}
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, timeout)
		defer timeoutCancel()
	}

	client := newClient(ctx, opts)
	defer client.Close()

	postId, _ := opts.String("--post")
	session := client.Open(comments.PostId(postId))
	defer session.Close()

	session.AddStatusCallback(func(status comments.ChannelStatus) {
		if status.Err != nil {
			Out.Printf("channel %s retry in %s (%s)", status.State, status.RetryDelay, status.Err)
		} else {
			Out.Printf("channel %s", status.State)
		}
	})
	changed := make(chan struct{}, 1)
	session.AddChangeCallback(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			printComments(session)
		}
	}
}

func wait(ctx context.Context, submission *comments.Submission) {
	for _, warning := range submission.Warnings {
		Out.Printf("warning: %s", warning)
	}
	if err := submission.Wait(ctx); err != nil {
		Err.Printf("%s failed (%s).", submission.Kind, err)
		os.Exit(1)
	}
	Out.Printf("%s ok", submission.Kind)
}

func post(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	client := newClient(ctx, opts)
	defer client.Close()

	postId, _ := opts.String("--post")
	session := client.Open(comments.PostId(postId))
	defer session.Close()

	content, _ := opts.String("<content>")
	submission, err := session.Create(content)
	if err != nil {
		Err.Printf("Comment not sent (%s).", err)
		os.Exit(1)
	}
	wait(ctx, submission)
	if comment := submission.Comment(); comment != nil {
		Out.Printf("comment_id: %s", comment.Id)
	}
}

func react(opts docopt.Opts, kind comments.ReactionKind) {
	ctx, cancel := signalContext()
	defer cancel()

	client := newClient(ctx, opts)
	defer client.Close()

	session := openSession(ctx, client, opts)
	defer session.Close()

	commentId, _ := opts.String("<comment_id>")
	var submission *comments.Submission
	var err error
	if kind == comments.Dislike {
		submission, err = session.Dislike(comments.CommentId(commentId))
	} else {
		submission, err = session.Like(comments.CommentId(commentId))
	}
	if err != nil {
		Err.Printf("%s not sent (%s).", kind, err)
		os.Exit(1)
	}
	wait(ctx, submission)
}

func deleteComment(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	client := newClient(ctx, opts)
	defer client.Close()

	session := openSession(ctx, client, opts)
	defer session.Close()

	commentId, _ := opts.String("<comment_id>")
	submission, err := session.Delete(comments.CommentId(commentId))
	if err != nil {
		Err.Printf("Delete not sent (%s).", err)
		os.Exit(1)
	}
	wait(ctx, submission)
}

func report(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	client := newClient(ctx, opts)
	defer client.Close()

	session := openSession(ctx, client, opts)
	defer session.Close()

	commentId, _ := opts.String("<comment_id>")
	reason, _ := opts.String("<reason>")
	wait(ctx, session.Report(comments.CommentId(commentId), reason))
}
