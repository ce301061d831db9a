package conversation

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
)

// Имена-заглушки, если поиск контакта или группы не удался.
const (
	UnknownGroup   = "Groupe inconnu"
	UnknownContact = "Contact inconnu"
	Unknown        = "Inconnu"
)

// Lookups находит данные для отображения бесед.
type Lookups interface {
	GetContactByID(ctx context.Context, id string) (model.Contact, error)
	GetGroupByID(ctx context.Context, id string) (model.Group, error)
}

// Filter — фильтр списка бесед.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterUnread    Filter = "unread"
	FilterFavorites Filter = "favorites"
	FilterGroups    Filter = "groups"
)

func ParseFilter(s string) (Filter, bool) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterAll, FilterUnread, FilterFavorites, FilterGroups:
		return f, true
	}
	return FilterAll, false
}

// Enrich добавляет имена и аватары. Неудачный поиск даёт заглушку и не ломает список.
// isFavorite может быть nil.
func Enrich(ctx context.Context, lk Lookups, convs []model.Conversation, isFavorite func(id string) bool) []model.Discussion {
	out := make([]model.Discussion, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range convs {
		g.Go(func() error {
			out[i] = enrichOne(gctx, lk, convs[i])
			if isFavorite != nil {
				out[i].IsFavorite = isFavorite(convs[i].ID)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func enrichOne(ctx context.Context, lk Lookups, c model.Conversation) model.Discussion {
	d := model.Discussion{Conversation: c, Kind: c.Kind()}
	if c.IsGroup {
		grp, err := lk.GetGroupByID(ctx, c.ID)
		switch {
		case err == nil && grp.Nom != "":
			d.Name = grp.Nom
		case err == nil || errors.Is(err, api.ErrNotFound):
			d.Name = UnknownGroup
		default:
			logger.Warnf("conversation: group lookup %s: %v", c.ID, err)
			d.Name, d.Avatar = Unknown, "U"
			return d
		}
		d.Avatar = "G"
		return d
	}

	ct, err := lk.GetContactByID(ctx, c.ID)
	switch {
	case err == nil && ct.FullName() != "":
		d.Name = ct.FullName()
		d.Avatar = Initials(ct.Prenom, ct.Nom)
		d.Phone = ct.Telephone
	case err == nil || errors.Is(err, api.ErrNotFound):
		d.Name, d.Avatar = UnknownContact, "C"
	default:
		logger.Warnf("conversation: contact lookup %s: %v", c.ID, err)
		d.Name, d.Avatar = Unknown, "U"
	}
	return d
}

// Initials возвращает первые буквы непустых частей в верхнем регистре.
func Initials(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(p)
		b.WriteString(strings.ToUpper(string(r)))
	}
	if b.Len() == 0 {
		return "C"
	}
	return b.String()
}

func Apply(ds []model.Discussion, f Filter) []model.Discussion {
	if f == FilterAll || f == "" {
		return ds
	}
	out := make([]model.Discussion, 0, len(ds))
	for _, d := range ds {
		switch {
		case f == FilterUnread && d.UnreadCount > 0,
			f == FilterFavorites && d.IsFavorite,
			f == FilterGroups && d.IsGroup:
			out = append(out, d)
		}
	}
	return out
}

// Search ищет по имени и тексту последнего сообщения без учёта регистра, по телефону подстрокой.
func Search(ds []model.Discussion, term string) []model.Discussion {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return ds
	}
	out := make([]model.Discussion, 0, len(ds))
	for _, d := range ds {
		if strings.Contains(strings.ToLower(d.Name), term) ||
			strings.Contains(strings.ToLower(d.LastMessage.Content), term) ||
			(d.Phone != "" && strings.Contains(d.Phone, term)) {
			out = append(out, d)
		}
	}
	return out
}
