package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foospoll/foospollbot/internal/ballot"
	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/registration"
	"github.com/foospoll/foospollbot/internal/workflow"
)

const maxOptionsPerCommand = 20

const (
	textHelp = "Это бот регистрации на турнир.\n\n" +
		"/start – начать регистрацию или узнать, на каком вы шаге\n" +
		"/help – эта подсказка"
	textAdminHelp = "Команды администратора:\n" +
		"/pending – заявки на проверке\n" +
		"/approve ID – одобрить заявку\n" +
		"/reject ID – отклонить заявку\n" +
		"/add_options Вариант 1 | Вариант 2 – добавить варианты голосования\n" +
		"/start_vote – разослать бюллетени одобренным участникам\n" +
		"/resend ID – повторно отправить бюллетень\n" +
		"/status – статистика заявок и голосов"
	textUnknownCommand   = "Не знаю такой команды. Попробуй /start"
	textNeedText         = "Ответьте, пожалуйста, текстом."
	textBroadcastStarted = "Рассылка бюллетеней запущена."
	textBroadcastDone    = "Рассылка завершена. "
	textUsageID          = "Использование: /%s ID"
	textUsageOptions     = "Использование: /add_options Вариант 1 | Вариант 2"
	textOptionsAdded     = "Добавлено вариантов: %d"
	textResent           = "Бюллетень повторно отправлен участнику %d."

	textErrGeneric        = "Что-то пошло не так. Попробуйте ещё раз или обратитесь к организаторам."
	textErrName           = "Имя и фамилия не должны быть пустыми или длиннее 64 символов."
	textErrPhone          = "Неверный формат телефона. Пример: +7 999 123-45-67 или 89991234567."
	textErrRating         = "Неверная ссылка. Пример: https://rtsf.ru/ratings/player/12345"
	textErrPlayerNotFound = "Игрок с номером %d не найден в рейтинге."
	textErrPlayerTaken    = "Этот игрок уже зарегистрирован другим участником."
	textErrNotRegistered  = "Сначала нажмите /start"
	textErrNotAdmin       = "Команда доступна только администраторам."
	textErrTransition     = "Это действие сейчас недоступно. Если это ошибка, обратитесь к организаторам."
	textErrMissingFields  = "Нельзя одобрить: в заявке не хватает данных (%s)."
	textErrAlreadyVoted   = "Вы уже проголосовали."
	textErrUnknownOption  = "Такого варианта нет."
	textErrNoOptions      = "Не заданы варианты голосования. Добавьте их командой /add_options."
	textErrCodes          = "Не удалось сохранить голос, попробуйте ещё раз."
	textErrDelivery       = "Не удалось доставить сообщение пользователю %d."
)

// errorText maps an error to the message shown to the user.
func errorText(err error) string {
	var (
		verr  *domain.ValidationError
		pnErr *domain.PlayerNotFoundError
		trErr *workflow.TransitionError
		tpErr *domain.TransportError
	)
	switch {
	case errors.As(err, &verr):
		switch verr.Field {
		case "first_name", "last_name":
			return textErrName
		case "phone":
			return textErrPhone
		case "rating_url":
			return textErrRating
		case "photo":
			return registration.PhotoExpected()
		}
		return textErrGeneric
	case errors.As(err, &pnErr):
		return fmt.Sprintf(textErrPlayerNotFound, pnErr.PlayerID)
	case errors.Is(err, domain.ErrPlayerAlreadyRegistered):
		return textErrPlayerTaken
	case errors.Is(err, domain.ErrApplicantNotFound):
		return textErrNotRegistered
	case errors.Is(err, domain.ErrNotAdmin):
		return textErrNotAdmin
	case errors.Is(err, domain.ErrDuplicateVote):
		return textErrAlreadyVoted
	case errors.As(err, &trErr):
		if len(trErr.Missing) > 0 {
			return fmt.Sprintf(textErrMissingFields, strings.Join(trErr.Missing, ", "))
		}
		if trErr.Trigger == workflow.RecordVote && trErr.From == domain.StateVoted {
			return textErrAlreadyVoted
		}
		return textErrTransition
	case errors.Is(err, domain.ErrUnknownOption):
		return textErrUnknownOption
	case errors.Is(err, domain.ErrNoVoteOptions):
		return textErrNoOptions
	case errors.Is(err, ballot.ErrCodesExhausted):
		return textErrCodes
	case errors.As(err, &tpErr):
		return fmt.Sprintf(textErrDelivery, tpErr.Recipient)
	}
	return textErrGeneric
}
