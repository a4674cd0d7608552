package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hoodly/hoodlysync/internal/config"
	"github.com/hoodly/hoodlysync/internal/diag"
	"github.com/hoodly/hoodlysync/internal/feed"
	"github.com/hoodly/hoodlysync/internal/invite"
	"github.com/hoodly/hoodlysync/internal/media"
	"github.com/hoodly/hoodlysync/internal/models"
)

const shutdownTimeout = 10 * time.Second

// Run executes one CLI command against the configured backend.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: check, signin, signout, invite, feed, post, like, stories, story, chat, or profile")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	// The check command must work with any amount of configuration, so it
	// skips dependency wiring entirely.
	if args[0] == "check" {
		return runCheck(ctx, cfg)
	}

	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	deps.tracker.Initialize(ctx)

	switch args[0] {
	case "signin":
		return runSignIn(ctx, deps)
	case "signout":
		return runSignOut(ctx, deps)
	case "invite":
		return runInvite(ctx, deps, args[1:])
	case "feed":
		return runFeed(ctx, deps, args[1:])
	case "post":
		return runPost(ctx, deps, args[1:])
	case "like":
		return runLike(ctx, deps, args[1:])
	case "stories":
		return runStories(ctx, deps)
	case "story":
		return runStory(ctx, deps, args[1:])
	case "chat":
		return runChat(ctx, deps, args[1:])
	case "profile":
		return runProfile(ctx, deps, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runCheck(ctx context.Context, cfg config.Config) error {
	runner := diag.NewRunner(cfg, nil, nil)
	checks := runner.Run(ctx)

	for _, check := range checks {
		line := fmt.Sprintf("%-10s %s", check.Name, check.Status)
		if check.Detail != "" {
			line += "  " + check.Detail
		}
		fmt.Println(line)
	}

	if !diag.Healthy(checks) {
		return errors.New("one or more connectivity checks failed")
	}
	return nil
}

func runSignIn(ctx context.Context, deps *dependencies) error {
	if deps.session == nil {
		return errors.New("sign-in requires a configured backend")
	}
	if deps.cfg.Email == "" || deps.cfg.Password == "" {
		return errors.New("set HOODLY_EMAIL and HOODLY_PASSWORD to sign in")
	}

	if err := deps.session.SignIn(ctx, deps.cfg.Email, deps.cfg.Password); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	fmt.Printf("signed in as %s\n", deps.session.UserID())
	return nil
}

func runSignOut(ctx context.Context, deps *dependencies) error {
	if deps.session == nil {
		return errors.New("sign-out requires a configured backend")
	}
	if err := deps.session.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	fmt.Println("signed out")
	return nil
}

func runInvite(ctx context.Context, deps *dependencies, args []string) error {
	if len(args) == 0 {
		return errors.New("expected invite subcommand: create, redeem, stats, list, share, or deactivate")
	}

	switch args[0] {
	case "create":
		inviteType := models.InviteTypeUser
		if len(args) > 1 {
			inviteType = models.InviteType(args[1])
		}
		link, err := deps.invites.Create(ctx, invite.CreateParams{Type: inviteType})
		if err != nil {
			return err
		}
		fmt.Printf("created %s invite %s\n%s\n", link.Type, link.Code, invite.FormatLink(deps.cfg.LinkDomain, link.Code))
		return nil
	case "redeem":
		if len(args) < 2 {
			return errors.New("expected invite code")
		}
		link, err := deps.invites.Redeem(ctx, strings.ToUpper(args[1]), "")
		if err != nil {
			return err
		}
		fmt.Printf("redeemed %s invite %s (use %d", link.Type, link.Code, link.CurrentUses)
		if link.MaxUses > 0 {
			fmt.Printf(" of %d", link.MaxUses)
		}
		fmt.Println(")")
		return nil
	case "stats":
		if len(args) < 2 {
			return errors.New("expected invite code")
		}
		stats, err := deps.invites.Stats(ctx, strings.ToUpper(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("total uses:   %d\nunique users: %d\nlast 7 days:  %d\n", stats.TotalUses, stats.UniqueUsers, stats.RecentUses)
		return nil
	case "list":
		links, err := deps.invites.ListMine(ctx)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			fmt.Println("no invite links")
			return nil
		}
		now := time.Now()
		for _, link := range links {
			status := "active"
			if !link.IsActive {
				status = "inactive"
			}
			expiry := "never expires"
			if link.ExpiresAt != nil {
				expiry = invite.FormatExpiry(*link.ExpiresAt, now)
			}
			fmt.Printf("%s  %-6s  %-8s  uses %d  %s\n", link.Code, link.Type, status, link.CurrentUses, expiry)
		}
		return nil
	case "share":
		if len(args) < 2 {
			return errors.New("expected invite code")
		}
		text, err := deps.invites.ShareLink(ctx, strings.ToUpper(args[1]), "cli")
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	case "deactivate":
		if len(args) < 2 {
			return errors.New("expected invite code")
		}
		code := strings.ToUpper(args[1])
		if err := deps.invites.Deactivate(ctx, code); err != nil {
			return err
		}
		fmt.Printf("deactivated invite %s\n", code)
		return nil
	default:
		return fmt.Errorf("unknown invite subcommand %q", args[0])
	}
}

func runFeed(ctx context.Context, deps *dependencies, args []string) error {
	tab := feed.TabRecent
	if len(args) > 0 {
		tab = feed.Tab(args[0])
	}

	posts, err := deps.feed.ListPosts(ctx, tab)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		fmt.Println("no posts")
		return nil
	}
	for _, post := range posts {
		fmt.Printf("%s  %s  likes=%d comments=%d\n  %s\n", post.CreatedAt.Format(time.RFC3339), post.UserID, post.LikesCount, post.CommentsCount, post.Content)
	}
	return nil
}

func runPost(ctx context.Context, deps *dependencies, args []string) error {
	if len(args) == 0 {
		return errors.New("expected post content")
	}
	if len(args) > 1 && deps.uploader == nil {
		return errors.New("media upload requires a configured object store")
	}

	post, err := deps.feed.CreatePost(ctx, args[0], "public")
	if err != nil {
		return err
	}
	fmt.Printf("created post %s\n", post.ID)

	for _, file := range args[1:] {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read media file: %w", err)
		}
		job := media.UploadJob{
			Kind:     media.TargetPost,
			TargetID: post.ID,
			Name:     filepath.Base(file),
			Content:  content,
		}
		if err := deps.uploader.Enqueue(ctx, job); err != nil {
			return err
		}
		fmt.Printf("uploading %s\n", filepath.Base(file))
	}
	return nil
}

func runLike(ctx context.Context, deps *dependencies, args []string) error {
	if len(args) == 0 {
		return errors.New("expected post id")
	}

	posts, err := deps.feed.ListPosts(ctx, feed.TabRecent)
	if err != nil {
		return err
	}
	for _, post := range posts {
		if post.ID != args[0] {
			continue
		}
		updated, err := deps.feed.ToggleLike(ctx, post)
		if err != nil {
			return err
		}
		verb := "liked"
		if !updated.IsLiked {
			verb = "unliked"
		}
		fmt.Printf("%s post %s (likes=%d)\n", verb, updated.ID, updated.LikesCount)
		return nil
	}
	return fmt.Errorf("post %s not in the latest feed page", args[0])
}

func runStory(ctx context.Context, deps *dependencies, args []string) error {
	if len(args) == 0 {
		return errors.New("expected media file")
	}
	if deps.uploader == nil {
		return errors.New("stories require a configured object store")
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read media file: %w", err)
	}

	story, err := deps.feed.CreateStory(ctx, mediaKind(args[0]))
	if err != nil {
		return err
	}

	job := media.UploadJob{
		Kind:     media.TargetStory,
		TargetID: story.ID,
		Name:     filepath.Base(args[0]),
		Content:  content,
	}
	if err := deps.uploader.Enqueue(ctx, job); err != nil {
		return err
	}

	fmt.Printf("created story %s, uploading %s\n", story.ID, filepath.Base(args[0]))
	return nil
}

func mediaKind(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov", ".webm":
		return "video"
	default:
		return "image"
	}
}

func runStories(ctx context.Context, deps *dependencies) error {
	stories, err := deps.feed.Stories(ctx)
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		fmt.Println("no live stories")
		return nil
	}
	for _, story := range stories {
		fmt.Printf("%s  %s  %s\n", story.CreatedAt.Format(time.RFC3339), story.UserID, story.MediaURL)
	}
	return nil
}

func runChat(ctx context.Context, deps *dependencies, args []string) error {
	if deps.chat == nil {
		return errors.New("chat requires a realtime endpoint")
	}
	if len(args) == 0 {
		return errors.New("expected peer user id")
	}

	conv := deps.chat.Private(args[0])
	if err := conv.Open(ctx); err != nil {
		return err
	}
	defer conv.Close()

	conv.MarkRead(ctx)

	for _, msg := range conv.Messages() {
		fmt.Printf("%s  %s: %s\n", msg.CreatedAt.Format(time.RFC3339), msg.SenderID, msg.Content)
	}

	if len(args) > 1 {
		content := strings.Join(args[1:], " ")
		sent, err := conv.Send(ctx, content, "text")
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s: %s\n", sent.CreatedAt.Format(time.RFC3339), sent.SenderID, sent.Content)
	}
	return nil
}

func runProfile(ctx context.Context, deps *dependencies, args []string) error {
	if len(args) == 0 {
		return errors.New("expected user id")
	}

	profile, err := deps.profiles.Find(ctx, args[0])
	if err != nil {
		return err
	}

	counts, err := deps.profiles.FollowCounts(ctx, profile.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", profile.Username, profile.ID)
	if profile.Bio != "" {
		fmt.Println(profile.Bio)
	}
	fmt.Printf("followers %d  following %d\n", counts.Followers, counts.Following)
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
